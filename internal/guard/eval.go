package guard

import (
	"reflect"
	"strings"

	"github.com/rendis/botflow/pkg/schema"
)

// evalOp is one entry of the predicate dispatch table.
type evalOp func(p *predicate, value any) (bool, error)

var dispatch = map[Op]evalOp{
	OpTruthy:     func(_ *predicate, v any) (bool, error) { return truthy(v), nil },
	OpEq:         func(p *predicate, v any) (bool, error) { return looseEqual(v, p.operand), nil },
	OpNe:         func(p *predicate, v any) (bool, error) { return !looseEqual(v, p.operand), nil },
	OpGt:         orderOp(func(c int) bool { return c > 0 }),
	OpGe:         orderOp(func(c int) bool { return c >= 0 }),
	OpLt:         orderOp(func(c int) bool { return c < 0 }),
	OpLe:         orderOp(func(c int) bool { return c <= 0 }),
	OpIn:         membership(true),
	OpNotIn:      membership(false),
	OpMatches:    stringOp(func(p *predicate, s string) bool { return p.re.MatchString(s) }),
	OpContains:   stringOp(func(p *predicate, s string) bool { return strings.Contains(s, p.operand.(string)) }),
	OpStartsWith: stringOp(func(p *predicate, s string) bool { return strings.HasPrefix(s, p.operand.(string)) }),
	OpEndsWith:   stringOp(func(p *predicate, s string) bool { return strings.HasSuffix(s, p.operand.(string)) }),
}

func evalPredicate(p *predicate, value any) (bool, error) {
	return dispatch[p.op](p, value)
}

// orderOp builds the evaluator for <, <=, >, >=. Numeric against numeric and
// string against string are the only ordered pairs; anything else is a
// contract violation.
func orderOp(accept func(cmp int) bool) evalOp {
	return func(p *predicate, value any) (bool, error) {
		if vn, vok := asNumber(value); vok {
			on, ook := asNumber(p.operand)
			if !ook {
				return false, typeMismatch(p, value)
			}
			switch {
			case vn < on:
				return accept(-1), nil
			case vn > on:
				return accept(1), nil
			default:
				return accept(0), nil
			}
		}
		if vs, vok := value.(string); vok {
			os, ook := p.operand.(string)
			if !ook {
				return false, typeMismatch(p, value)
			}
			return accept(strings.Compare(vs, os)), nil
		}
		return false, typeMismatch(p, value)
	}
}

func membership(want bool) evalOp {
	return func(p *predicate, value any) (bool, error) {
		list := p.operand.([]any)
		for _, item := range list {
			if looseEqual(value, item) {
				return want, nil
			}
		}
		return !want, nil
	}
}

func stringOp(match func(p *predicate, s string) bool) evalOp {
	return func(p *predicate, value any) (bool, error) {
		s, ok := value.(string)
		if !ok {
			return false, typeMismatch(p, value)
		}
		return match(p, s), nil
	}
}

func typeMismatch(p *predicate, value any) error {
	return schema.NewErrorf(schema.ErrCodeGuard,
		"operator %q cannot compare value of type %T", p.op, value)
}

// looseEqual compares two values, treating all numeric types as one domain.
// Cross-domain comparisons are simply unequal, never an error.
func looseEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	switch a.(type) {
	case []any, map[string]any:
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// asNumber normalizes numeric types to float64. Variables restored from JSON
// arrive as float64; literals and caller-seeded values may be any Go numeric.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// truthy mirrors the usual scripting-language notion: nil, false, zero,
// empty string and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if n, ok := asNumber(v); ok {
			return n != 0
		}
		return true
	}
}
