package machine

import (
	"context"

	"github.com/rendis/botflow/internal/understanding"
	"github.com/rendis/botflow/pkg/schema"
)

// Runtime is one conversation session's run over a shared Definition. It is
// single-threaded and cooperative: the engine never runs two enter-handlers
// concurrently, and between turns the runtime is fully inert — the snapshot
// is the entire live state.
type Runtime struct {
	def    *Definition
	send   schema.SendMessage
	parser understanding.Service
	creds  map[string]string

	state     string
	status    schema.Status
	variables map[string]any
	outputs   map[string]any
	plugins   map[string]*Runtime

	input    *string
	callback *string
}

// Outcome is the result of one Run invocation: either the run is still
// suspended waiting for an external event, or it ended and Outputs holds the
// declared output variables.
type Outcome struct {
	Running bool
	Outputs map[string]any
}

// Option configures a Runtime at hydration time.
type Option func(*Runtime)

// WithSendMessage sets the outbound message callback.
func WithSendMessage(send schema.SendMessage) Option {
	return func(rt *Runtime) { rt.send = send }
}

// WithParser sets the understanding service used by input-task logic states.
func WithParser(svc understanding.Service) Option {
	return func(rt *Runtime) { rt.parser = svc }
}

// WithCredentials sets the flat secrets/config mapping handed to the
// understanding service. Never persisted in snapshots.
func WithCredentials(creds map[string]string) Option {
	return func(rt *Runtime) { rt.creds = creds }
}

// NewRuntime hydrates a fresh run at the start state. The definition must be
// finalized. Options propagate recursively into plugin runtimes.
func NewRuntime(def *Definition, opts ...Option) (*Runtime, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition is nil")
	}
	if !def.finalized {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"definition %q must be finalized before creating a runtime", def.name)
	}

	rt := &Runtime{
		def:       def,
		state:     StartState,
		status:    schema.StatusMoveForward,
		variables: make(map[string]any),
		outputs:   make(map[string]any),
		plugins:   make(map[string]*Runtime, len(def.plugins)),
	}
	for _, opt := range opts {
		opt(rt)
	}

	for name, childDef := range def.plugins {
		child, err := NewRuntime(childDef, opts...)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodePlugin,
				"hydrate plugin %q: %s", name, err.Error()).WithCause(err)
		}
		rt.plugins[name] = child
	}
	return rt, nil
}

// State returns the current state name.
func (rt *Runtime) State() string { return rt.state }

// Status returns the current run status.
func (rt *Runtime) Status() schema.Status { return rt.status }

// Variables returns the run's working memory. Callers must treat it as
// owned by the runtime.
func (rt *Runtime) Variables() map[string]any { return rt.variables }

// Initialise seeds the run's variables. Used for a fresh run's init kwargs
// and for plugin delegation input.
func (rt *Runtime) Initialise(kwargs map[string]any) {
	for k, v := range kwargs {
		rt.variables[k] = v
	}
}

// SubmitInput delivers a user reply. If the run is waiting for user input,
// it becomes runnable again.
func (rt *Runtime) SubmitInput(input string) {
	rt.input = &input
	if rt.status == schema.StatusWaitForUserInput {
		rt.status = schema.StatusMoveForward
	}
}

// SubmitCallback delivers an asynchronous callback value. If the run is
// waiting for a callback, it becomes runnable again.
func (rt *Runtime) SubmitCallback(value string) {
	rt.callback = &value
	if rt.status == schema.StatusWaitForCallback {
		rt.status = schema.StatusMoveForward
	}
}

// CurrentInput returns the pending user input, if any.
func (rt *Runtime) CurrentInput() (string, bool) {
	if rt.input == nil {
		return "", false
	}
	return *rt.input, true
}

// CurrentCallback returns the pending callback value, if any.
func (rt *Runtime) CurrentCallback() (string, bool) {
	if rt.callback == nil {
		return "", false
	}
	return *rt.callback, true
}

func (rt *Runtime) resetInputs() {
	rt.input = nil
	rt.callback = nil
}

// Run drives the engine until the run suspends or ends.
//
// If the previous turn left the run waiting on a plugin, the current state's
// enter-handler is re-invoked first so the nested plugin gets a chance to
// consume the newly-submitted input or callback. Then, while the status is
// MOVE_FORWARD, the engine resolves the transition table for the current
// state, advances, and invokes the new state's enter-handler; pending inputs
// are cleared after every step.
//
// A handler error aborts the turn without settling the status; callers must
// not persist a snapshot taken after a failed turn.
func (rt *Runtime) Run(ctx context.Context) (*Outcome, error) {
	if rt.status == schema.StatusWaitForPlugin {
		if h, ok := rt.def.handlers[rt.state]; ok {
			if err := h(ctx, rt); err != nil {
				return nil, err
			}
			if rt.status == schema.StatusWaitForMe {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"handler for state %q returned without settling the run status", rt.state).WithState(rt.state)
			}
		}
	}

	for rt.status == schema.StatusMoveForward {
		next, err := rt.def.resolveNext(ctx, rt.state, rt.variables)
		if err != nil {
			return nil, err
		}
		rt.state = next
		if h, ok := rt.def.handlers[next]; ok {
			if err := h(ctx, rt); err != nil {
				return nil, err
			}
			if rt.status == schema.StatusWaitForMe {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"handler for state %q returned without settling the run status", next).WithState(next)
			}
		}
		rt.resetInputs()
	}

	if rt.status == schema.StatusEnd {
		return &Outcome{Outputs: rt.outputs}, nil
	}
	return &Outcome{Running: true}, nil
}

// RunPlugin delegates to the named nested workflow. A child still at the
// start state is initialised with kwargs; otherwise the parent's pending
// input and callback are forwarded into it unchanged. If the child suspends,
// the parent's status becomes WAIT_FOR_PLUGIN and running=true is returned —
// suspension bubbles transparently through arbitrary nesting depth. If the
// child ends, its outputs are returned and the child is recursively reset.
func (rt *Runtime) RunPlugin(ctx context.Context, name string, kwargs map[string]any) (outputs map[string]any, running bool, err error) {
	child, ok := rt.plugins[name]
	if !ok {
		return nil, false, schema.NewErrorf(schema.ErrCodeNotFound,
			"no such plugin: %q", name).WithState(rt.state)
	}

	if child.state == StartState {
		child.Initialise(kwargs)
	} else {
		if cb, ok := rt.CurrentCallback(); ok {
			child.SubmitCallback(cb)
		}
		if in, ok := rt.CurrentInput(); ok {
			child.SubmitInput(in)
		}
	}

	outcome, err := child.Run(ctx)
	if err != nil {
		return nil, false, err
	}
	if outcome.Running {
		rt.status = schema.StatusWaitForPlugin
		return nil, true, nil
	}

	child.Reset()
	return outcome.Outputs, false, nil
}

// PluginState returns the current state of the named plugin, or "" if the
// plugin does not exist.
func (rt *Runtime) PluginState(name string) string {
	if child, ok := rt.plugins[name]; ok {
		return child.state
	}
	return ""
}

// Reset returns the run to its initial configuration: start state, empty
// working memory, recursively reset plugins.
func (rt *Runtime) Reset() {
	rt.state = StartState
	rt.status = schema.StatusMoveForward
	rt.variables = make(map[string]any)
	rt.outputs = make(map[string]any)
	for _, child := range rt.plugins {
		child.Reset()
	}
	rt.resetInputs()
}

// setOutputs copies the declared output variables into the result mapping.
// Undeclared values are recorded as nil so the output shape is stable.
func (rt *Runtime) setOutputs() {
	for _, name := range rt.def.outputs {
		if v, ok := rt.variables[name]; ok {
			rt.outputs[name] = v
		} else {
			rt.outputs[name] = nil
		}
	}
}

// endHandler is the built-in enter-handler of the terminal state.
func endHandler(_ context.Context, rt *Runtime) error {
	rt.status = schema.StatusWaitForMe
	rt.setOutputs()
	rt.status = schema.StatusEnd
	return nil
}

// emit sends an outbound message through the configured callback.
func (rt *Runtime) emit(msg schema.Message) error {
	if rt.send == nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"state %q emits a message but no send callback is configured", rt.state).WithState(rt.state)
	}
	rt.send(msg)
	return nil
}
