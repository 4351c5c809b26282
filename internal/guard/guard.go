// Package guard compiles variable-bound boolean expressions into callable
// predicates used to pick among transitions sharing a source state.
//
// The default compiler accepts a closed, typed comparison grammar parsed
// ahead of time into an operator tag plus operands and evaluated by a
// dispatch table; guards never execute caller-supplied code. Sandboxed
// engine-backed guards (CEL, expr) are available via FromEngine.
package guard

import (
	"context"
	"strings"

	"github.com/rendis/botflow/internal/expressions"
	"github.com/rendis/botflow/pkg/schema"
)

// Guard is a named, pure predicate over a single variable of a run's
// variable mapping. Guards are compiled once at definition-construction time
// and shared read-only across sessions.
type Guard struct {
	name     string
	variable string
	expr     string
	eval     func(ctx context.Context, vars map[string]any) (bool, error)
}

// Name returns the guard's registry name.
func (g *Guard) Name() string { return g.name }

// Variable returns the name of the variable the guard is bound to.
func (g *Guard) Variable() string { return g.variable }

// Eval evaluates the guard against a run's variable mapping. An absent
// variable fails the guard rather than erroring; a type-incompatible
// comparison is a contract violation and returns a GUARD_ERROR.
func (g *Guard) Eval(ctx context.Context, vars map[string]any) (bool, error) {
	ok, err := g.eval(ctx, vars)
	if err != nil {
		if ferr, isFlow := err.(*schema.FlowError); isFlow {
			return false, ferr
		}
		return false, schema.NewErrorf(schema.ErrCodeGuard,
			"guard %q: %s", g.name, err.Error()).WithCause(err)
	}
	return ok, nil
}

// Compile builds a guard from the closed comparison grammar.
func Compile(name, variable, expression string) (*Guard, error) {
	if variable == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "guard %q has no bound variable", name)
	}
	pred, err := parse(variable, expression)
	if err != nil {
		return nil, err
	}
	return &Guard{
		name:     name,
		variable: variable,
		expr:     expression,
		eval: func(_ context.Context, vars map[string]any) (bool, error) {
			value, present := vars[variable]
			if !present {
				return false, nil
			}
			return evalPredicate(pred, value)
		},
	}, nil
}

// Equals builds a guard checking variable == value, used for plugin
// error-code routing.
func Equals(name, variable string, value any) *Guard {
	return &Guard{
		name:     name,
		variable: variable,
		eval: func(_ context.Context, vars map[string]any) (bool, error) {
			actual, present := vars[variable]
			if !present {
				return false, nil
			}
			return looseEqual(actual, value), nil
		},
	}
}

// FromEngine builds a guard whose expression is evaluated by a sandboxed
// expression engine. The run's variables are exposed to the expression under
// the top-level "vars" map (e.g. "vars.age >= 18"). The expression must
// yield a boolean.
func FromEngine(eng expressions.Engine, name, variable, expression string) (*Guard, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "guard %q has an empty expression", name)
	}
	return &Guard{
		name:     name,
		variable: variable,
		expr:     expression,
		eval: func(ctx context.Context, vars map[string]any) (bool, error) {
			if variable != "" {
				if _, present := vars[variable]; !present {
					return false, nil
				}
			}
			out, err := eng.Evaluate(ctx, expression, map[string]any{"vars": vars})
			if err != nil {
				return false, err
			}
			b, ok := out.(bool)
			if !ok {
				return false, schema.NewErrorf(schema.ErrCodeGuard,
					"guard %q: expression %q yielded %T, want bool", name, expression, out)
			}
			return b, nil
		},
	}, nil
}
