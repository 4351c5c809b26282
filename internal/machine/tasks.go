package machine

import (
	"context"
	"fmt"

	"github.com/rendis/botflow/internal/guard"
	"github.com/rendis/botflow/internal/understanding"
	"github.com/rendis/botflow/pkg/schema"
)

// DisplayOpts carries the optional presentation fields of a display or
// prompt message.
type DisplayOpts struct {
	Options      []string
	Dialog       string
	MenuSelector string
	MenuTitle    string
	MediaURL     string
	DestChannel  string
}

// AddDisplayTask creates a state whose handler emits one outbound message
// and moves on unconditionally.
func (d *Definition) AddDisplayTask(source, dest, message string, opts *DisplayOpts) error {
	if err := d.AddState(source); err != nil {
		return err
	}
	if err := d.AddTransition(source, dest); err != nil {
		return err
	}
	return d.Handle(source, displayHandler(d, message, opts))
}

// displayHandler builds the enter-handler shared by display tasks and input
// prompts. The message body is interpolated against the run's variables at
// emission time.
func displayHandler(d *Definition, message string, opts *DisplayOpts) Handler {
	if opts == nil {
		opts = &DisplayOpts{}
	}
	options := schema.MakeOptions(opts.Options)
	dest := opts.DestChannel
	if dest == "" {
		dest = schema.DefaultChannel
	}

	kind := schema.MessageText
	switch {
	case len(options) > 0:
		kind = schema.MessageInteractive
	case opts.MediaURL != "":
		kind = schema.MessageImage
	}

	return func(_ context.Context, rt *Runtime) error {
		rt.status = schema.StatusWaitForMe
		body, err := d.interp.Resolve(message, rt.variables)
		if err != nil {
			return err
		}
		if err := rt.emit(schema.Message{
			Kind:         kind,
			Dest:         dest,
			Body:         body,
			Options:      options,
			Dialog:       opts.Dialog,
			MenuSelector: opts.MenuSelector,
			MenuTitle:    opts.MenuTitle,
			MediaURL:     opts.MediaURL,
		}); err != nil {
			return err
		}
		rt.status = schema.StatusMoveForward
		return nil
	}
}

// InputTaskConfig configures an input-collection task.
type InputTaskConfig struct {
	// SuccessDest receives the run when the parsed value passes validation.
	SuccessDest string
	// FailDest receives the run otherwise (the unguarded fallback edge).
	FailDest string
	// WriteVar is the variable the parsed value is written to.
	WriteVar string
	// ValidationExpr is a closed-grammar expression over WriteVar; empty
	// means "any confidently parsed value is valid".
	ValidationExpr string
	// Display carries the prompt presentation fields.
	Display *DisplayOpts
}

// AddInputTask creates the three chained states of an input task:
// <name>_display emits the prompt, <name>_input suspends for the user
// reply, <name>_logic parses the reply through the understanding service and
// writes the value. From the logic state a validation guard routes to
// SuccessDest; the unguarded fallback routes to FailDest.
func (d *Definition) AddInputTask(name, message string, cfg InputTaskConfig) error {
	if cfg.WriteVar == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "input task %q has no write variable", name)
	}

	display := name + "_display"
	input := name + "_input"
	logic := name + "_logic"

	for _, state := range []string{display, input, logic} {
		if err := d.AddState(state); err != nil {
			return err
		}
	}
	if err := d.AddTransition(display, input); err != nil {
		return err
	}
	if err := d.AddTransition(input, logic); err != nil {
		return err
	}

	guardName := "is_valid_" + cfg.WriteVar
	var g *guard.Guard
	var err error
	if cfg.ValidationExpr != "" {
		g, err = guard.Compile(guardName, cfg.WriteVar, cfg.ValidationExpr)
		if err != nil {
			return err
		}
	} else {
		// Presence check: the logic handler only writes the variable when
		// the understanding service was confident.
		g, err = guard.Compile(guardName, cfg.WriteVar, cfg.WriteVar+" != null")
		if err != nil {
			return err
		}
	}
	if err := d.AddGuard(g); err != nil {
		return err
	}
	if err := d.AddGuardedTransition(logic, cfg.SuccessDest, guardName); err != nil {
		return err
	}
	if err := d.AddTransition(logic, cfg.FailDest); err != nil {
		return err
	}

	if err := d.Handle(display, displayHandler(d, message, cfg.Display)); err != nil {
		return err
	}
	if err := d.Handle(input, suspendHandler); err != nil {
		return err
	}

	var options []schema.Option
	if cfg.Display != nil {
		options = schema.MakeOptions(cfg.Display.Options)
	}
	return d.Handle(logic, inputLogicHandler(message, cfg.WriteVar, cfg.ValidationExpr, options))
}

// suspendHandler is the no-op handler of an input state: it only requests
// suspension until the user replies.
func suspendHandler(_ context.Context, rt *Runtime) error {
	rt.status = schema.StatusWaitForMe
	rt.status = schema.StatusWaitForUserInput
	return nil
}

// inputLogicHandler invokes the understanding service on the pending user
// input and writes the parsed value. A non-confident result clears the
// variable so the validation guard fails and the run takes the fail edge.
func inputLogicHandler(prompt, writeVar, validation string, options []schema.Option) Handler {
	return func(ctx context.Context, rt *Runtime) error {
		rt.status = schema.StatusWaitForMe
		if rt.parser == nil {
			return schema.NewErrorf(schema.ErrCodeExecution,
				"state %q needs an understanding service but none is configured", rt.state).WithState(rt.state)
		}

		input, _ := rt.CurrentInput()
		res, err := rt.parser.Parse(ctx, understanding.Request{
			Task:        fmt.Sprintf("collect %q", writeVar),
			Prompt:      prompt,
			Options:     options,
			Input:       input,
			Validation:  validation,
			Credentials: rt.creds,
		})
		if err != nil {
			return err
		}

		if res.OK {
			rt.variables[writeVar] = res.Value
		} else {
			delete(rt.variables, writeVar)
		}
		rt.status = schema.StatusMoveForward
		return nil
	}
}

// BranchRule is one arm of a branching task. Either Guard names an already
// registered guard, or Variable+Expression declare one inline (compiled with
// the closed grammar, or by the named sandboxed Engine). A rule with neither
// is the fallback; at most one is allowed and it always sorts last.
type BranchRule struct {
	Dest       string
	Guard      string
	Variable   string
	Expression string
	Engine     string
}

// AddBranchingTask creates a pure decision state: a no-op handler plus one
// guarded transition per rule, evaluated in declaration order.
func (d *Definition) AddBranchingTask(source string, rules []BranchRule) error {
	if err := d.AddState(source); err != nil {
		return err
	}
	if err := d.Handle(source, passHandler); err != nil {
		return err
	}

	for i, rule := range rules {
		guardName := rule.Guard
		if guardName == "" && rule.Expression != "" {
			guardName = fmt.Sprintf("%s_branch_%d", source, i)
			g, err := d.compileRuleGuard(guardName, rule)
			if err != nil {
				return err
			}
			if err := d.AddGuard(g); err != nil {
				return err
			}
		}
		if err := d.AddGuardedTransition(source, rule.Dest, guardName); err != nil {
			return err
		}
	}
	return nil
}

// compileRuleGuard builds a branch rule's guard with the closed grammar or
// a registered sandboxed engine.
func (d *Definition) compileRuleGuard(name string, rule BranchRule) (*guard.Guard, error) {
	if rule.Engine != "" {
		eng, err := d.engine(rule.Engine)
		if err != nil {
			return nil, err
		}
		return guard.FromEngine(eng, name, rule.Variable, rule.Expression)
	}
	if rule.Variable == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"branch guard %q declares an expression without a variable", name)
	}
	return guard.Compile(name, rule.Variable, rule.Expression)
}

// passHandler is the no-op handler of a pure decision state.
func passHandler(_ context.Context, rt *Runtime) error {
	rt.status = schema.StatusWaitForMe
	rt.status = schema.StatusMoveForward
	return nil
}

// ErrorCodeVar is the variable plugin error-rule guards compare against.
// A plugin that completes abnormally reports its code through this output.
const ErrorCodeVar = "error_code"

// PluginRule routes the parent after plugin completion by equality on the
// plugin's reported error code. An empty Code is the fallback edge.
type PluginRule struct {
	Code string
	Dest string
}

// AddPluginTask creates a state that delegates to the named nested workflow.
// InputVars maps child variable <- parent variable; OutputVars maps child
// output -> parent variable. The optional message is emitted once, when the
// delegation first starts (not on resumption turns).
func (d *Definition) AddPluginTask(source, message, pluginName string, inputVars, outputVars map[string]string, rules []PluginRule) error {
	if _, ok := d.plugins[pluginName]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"plugin task %q delegates to unregistered plugin %q", source, pluginName)
	}
	if err := d.AddState(source); err != nil {
		return err
	}

	for _, rule := range rules {
		guardName := ""
		if rule.Code != "" {
			guardName = fmt.Sprintf("is_%s_%s", ErrorCodeVar, rule.Code)
			if _, exists := d.guards[guardName]; !exists {
				if err := d.AddGuard(guard.Equals(guardName, ErrorCodeVar, rule.Code)); err != nil {
					return err
				}
			}
		}
		if err := d.AddGuardedTransition(source, rule.Dest, guardName); err != nil {
			return err
		}
	}

	return d.Handle(source, pluginHandler(d, message, pluginName, inputVars, outputVars))
}

// pluginHandler delegates to the nested workflow and maps variables across
// the boundary. On a resumption turn (child no longer at its start state)
// the message is not re-emitted and the pending input/callback are forwarded
// by RunPlugin instead.
func pluginHandler(d *Definition, message, pluginName string, inputVars, outputVars map[string]string) Handler {
	return func(ctx context.Context, rt *Runtime) error {
		rt.status = schema.StatusWaitForMe

		fresh := rt.PluginState(pluginName) == StartState
		if message != "" && fresh {
			body, err := d.interp.Resolve(message, rt.variables)
			if err != nil {
				return err
			}
			if err := rt.emit(schema.Message{
				Kind: schema.MessageText,
				Dest: schema.DefaultChannel,
				Body: body,
			}); err != nil {
				return err
			}
		}

		kwargs := make(map[string]any, len(inputVars))
		for childVar, parentVar := range inputVars {
			kwargs[childVar] = rt.variables[parentVar]
		}

		outputs, running, err := rt.RunPlugin(ctx, pluginName, kwargs)
		if err != nil {
			return err
		}
		if running {
			// RunPlugin already set WAIT_FOR_PLUGIN.
			return nil
		}

		for childVar, parentVar := range outputVars {
			rt.variables[parentVar] = outputs[childVar]
		}

		// The child's reported code always lands in the parent's error_code
		// variable so the routing guards can see it; a stale code from an
		// earlier delegation must not leak into this decision.
		delete(rt.variables, ErrorCodeVar)
		if code, ok := outputs[ErrorCodeVar]; ok && code != nil {
			rt.variables[ErrorCodeVar] = code
		}

		rt.status = schema.StatusMoveForward
		return nil
	}
}
