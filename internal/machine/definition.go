// Package machine implements the conversational finite-state machine: a
// workflow definition is a graph of named states with guarded transitions,
// compiled once and shared read-only across sessions; a Runtime is one
// session's run over that graph, advancing until it must wait for an
// external event and serializing itself into a recursive snapshot.
package machine

import (
	"context"
	"fmt"

	"github.com/rendis/botflow/internal/expressions"
	"github.com/rendis/botflow/internal/guard"
	"github.com/rendis/botflow/pkg/schema"
)

// StartState is the designated start state of every definition. It has no
// enter-handler; the first transition out of it begins the conversation.
const StartState = "zero"

// EndState is the terminal state. Its built-in handler copies declared
// output variables into the result mapping and sets END.
const EndState = "end"

// Handler is a state's enter-handler. Handlers are attached at
// definition-construction time, must not capture per-session state, and act
// on the session only through the Runtime they are passed.
type Handler func(ctx context.Context, rt *Runtime) error

// Rule is one transition: source state, destination state, optional guard
// reference. Rules without a guard are the unconditional fallback for their
// source and are tried after every guarded alternative.
type Rule struct {
	Source string
	Dest   string
	Guard  string
}

// Definition is a compiled workflow: state set, transition rules, guard
// registry, handler registry, declared outputs, and owned plugin
// definitions. Immutable after Finalize; shared read-only across sessions.
type Definition struct {
	name      string
	states    map[string]bool
	order     []string
	rules     []Rule
	handlers  map[string]Handler
	guards    map[string]*guard.Guard
	outputs   []string
	plugins   map[string]*Definition
	engines   map[string]expressions.Engine
	interp    *expressions.Interpolator
	finalized bool

	// perSource caches, per source state, the rule evaluation order:
	// guarded rules in declared order, then the single fallback.
	perSource map[string][]Rule
}

// New creates an empty definition with the start and terminal states
// pre-registered. The terminal state's handler is built in.
func New(name string) *Definition {
	d := &Definition{
		name:     name,
		states:   make(map[string]bool),
		handlers: make(map[string]Handler),
		guards:   make(map[string]*guard.Guard),
		plugins:  make(map[string]*Definition),
		engines:  make(map[string]expressions.Engine),
		interp:   expressions.NewInterpolator(),
	}
	d.states[StartState] = true
	d.order = append(d.order, StartState)
	d.states[EndState] = true
	d.order = append(d.order, EndState)
	d.handlers[EndState] = endHandler
	return d
}

// Name returns the definition name.
func (d *Definition) Name() string { return d.name }

// AddState registers a state. Duplicate names are rejected fast.
func (d *Definition) AddState(name string) error {
	if err := d.mutable(); err != nil {
		return err
	}
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "state name cannot be empty")
	}
	if d.states[name] {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate state %q", name)
	}
	d.states[name] = true
	d.order = append(d.order, name)
	return nil
}

// Handle attaches the enter-handler for a state.
func (d *Definition) Handle(state string, h Handler) error {
	if err := d.mutable(); err != nil {
		return err
	}
	if _, exists := d.handlers[state]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "state %q already has a handler", state)
	}
	d.handlers[state] = h
	return nil
}

// AddTransition appends an unguarded transition rule.
func (d *Definition) AddTransition(source, dest string) error {
	return d.AddGuardedTransition(source, dest, "")
}

// AddGuardedTransition appends a transition rule with an optional guard
// reference. Guard existence is checked at Finalize so guards and rules can
// be declared in any order.
func (d *Definition) AddGuardedTransition(source, dest, guardName string) error {
	if err := d.mutable(); err != nil {
		return err
	}
	d.rules = append(d.rules, Rule{Source: source, Dest: dest, Guard: guardName})
	return nil
}

// AddGuard registers a named guard.
func (d *Definition) AddGuard(g *guard.Guard) error {
	if err := d.mutable(); err != nil {
		return err
	}
	if _, exists := d.guards[g.Name()]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate guard %q", g.Name())
	}
	d.guards[g.Name()] = g
	return nil
}

// AddPlugin registers a nested workflow definition under name. The child
// must already be finalized; ownership is exclusive to this definition.
func (d *Definition) AddPlugin(name string, child *Definition) error {
	if err := d.mutable(); err != nil {
		return err
	}
	if child == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "plugin %q definition is nil", name)
	}
	if !child.finalized {
		return schema.NewErrorf(schema.ErrCodeValidation, "plugin %q definition is not finalized", name)
	}
	if _, exists := d.plugins[name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate plugin %q", name)
	}
	d.plugins[name] = child
	return nil
}

// RegisterEngine makes a sandboxed expression engine available to
// engine-backed guards declared by tasks.
func (d *Definition) RegisterEngine(eng expressions.Engine) error {
	if err := d.mutable(); err != nil {
		return err
	}
	d.engines[eng.Name()] = eng
	return nil
}

// Outputs declares the variable names copied into the result mapping when
// the terminal state is reached.
func (d *Definition) Outputs(names ...string) error {
	if err := d.mutable(); err != nil {
		return err
	}
	d.outputs = append(d.outputs, names...)
	return nil
}

// Finalize runs the post-construction sanity pass and freezes the
// definition. A definition that fails to finalize is unusable.
func (d *Definition) Finalize() error {
	if d.finalized {
		return nil
	}

	result := &schema.ValidationResult{}

	if len(d.order) <= 2 { // only zero and end
		result.AddError("states", schema.ErrCodeValidation, "no states defined")
	}
	if len(d.rules) == 0 {
		result.AddError("transitions", schema.ErrCodeValidation, "no transitions defined")
	}

	for _, r := range d.rules {
		path := fmt.Sprintf("transitions/%s->%s", r.Source, r.Dest)
		if !d.states[r.Source] {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("unknown source state %q", r.Source))
		}
		if !d.states[r.Dest] {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("unknown destination state %q", r.Dest))
		}
		if r.Guard != "" {
			if _, ok := d.guards[r.Guard]; !ok {
				result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("guard %q not defined", r.Guard))
			}
		}
	}

	for _, state := range d.order {
		if state == StartState {
			continue
		}
		if _, ok := d.handlers[state]; !ok {
			result.AddError("states/"+state, schema.ErrCodeValidation,
				fmt.Sprintf("state %q has no enter-handler", state))
		}
	}

	perSource := make(map[string][]Rule)
	fallbacks := make(map[string]int)
	for _, r := range d.rules {
		if r.Guard == "" {
			fallbacks[r.Source]++
			continue
		}
		perSource[r.Source] = append(perSource[r.Source], r)
	}
	for _, r := range d.rules {
		if r.Guard == "" {
			perSource[r.Source] = append(perSource[r.Source], r)
		}
	}
	for source, n := range fallbacks {
		if n > 1 {
			result.AddError("transitions/"+source, schema.ErrCodeValidation,
				fmt.Sprintf("state %q has %d unguarded transitions; at most one fallback is allowed", source, n))
		}
	}

	if err := result.ToError(); err != nil {
		return err
	}

	d.perSource = perSource
	d.finalized = true
	return nil
}

// Finalized reports whether the definition passed its sanity pass.
func (d *Definition) Finalized() bool { return d.finalized }

// States returns the state names in declaration order.
func (d *Definition) States() []string {
	return append([]string(nil), d.order...)
}

// Rules returns the transition rules in declaration order.
func (d *Definition) Rules() []Rule {
	return append([]Rule(nil), d.rules...)
}

// PluginDefinitions returns the owned nested workflow definitions by name.
func (d *Definition) PluginDefinitions() map[string]*Definition {
	out := make(map[string]*Definition, len(d.plugins))
	for name, child := range d.plugins {
		out[name] = child
	}
	return out
}

// resolveNext evaluates the transition table for the given source state:
// guarded rules in declared order, then the unconditional fallback. Exactly
// one destination is returned; a source with no satisfiable rule is an
// execution error.
func (d *Definition) resolveNext(ctx context.Context, source string, vars map[string]any) (string, error) {
	rules := d.perSource[source]
	for _, r := range rules {
		if r.Guard == "" {
			return r.Dest, nil
		}
		ok, err := d.guards[r.Guard].Eval(ctx, vars)
		if err != nil {
			if ferr, isFlow := err.(*schema.FlowError); isFlow {
				return "", ferr.WithState(source)
			}
			return "", err
		}
		if ok {
			return r.Dest, nil
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeExecution,
		"no transition satisfied from state %q", source).WithState(source)
}

func (d *Definition) mutable() error {
	if d.finalized {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"definition %q is finalized and cannot be mutated", d.name)
	}
	return nil
}

// engine looks up a registered expression engine by name.
func (d *Definition) engine(name string) (expressions.Engine, error) {
	eng, ok := d.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expression engine %q is not registered on definition %q", name, d.name)
	}
	return eng, nil
}
