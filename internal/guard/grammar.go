package guard

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/botflow/pkg/schema"
)

// Op is the operator tag of a compiled predicate.
type Op int

const (
	OpTruthy Op = iota
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpIn
	OpNotIn
	OpMatches
	OpContains
	OpStartsWith
	OpEndsWith
)

var opNames = map[Op]string{
	OpTruthy:     "truthy",
	OpEq:         "==",
	OpNe:         "!=",
	OpGt:         ">",
	OpGe:         ">=",
	OpLt:         "<",
	OpLe:         "<=",
	OpIn:         "in",
	OpNotIn:      "not in",
	OpMatches:    "matches",
	OpContains:   "contains",
	OpStartsWith: "startswith",
	OpEndsWith:   "endswith",
}

func (o Op) String() string { return opNames[o] }

// predicate is the compiled form of a guard expression: an operator tag plus
// operands, evaluated by the dispatch table in eval.go. No code execution.
type predicate struct {
	op      Op
	operand any
	re      *regexp.Regexp // set for OpMatches only
}

// wordOps are operators written as words, tried longest-first so that
// "not in" is not misread as "in".
var wordOps = []struct {
	token string
	op    Op
}{
	{" not in ", OpNotIn},
	{" in ", OpIn},
	{" matches ", OpMatches},
	{" contains ", OpContains},
	{" startswith ", OpStartsWith},
	{" endswith ", OpEndsWith},
}

// symbolOps are operators written as symbols, tried longest-first so that
// ">=" is not misread as ">".
var symbolOps = []struct {
	token string
	op    Op
}{
	{"==", OpEq},
	{"!=", OpNe},
	{">=", OpGe},
	{"<=", OpLe},
	{">", OpGt},
	{"<", OpLt},
}

// parse compiles an expression bound to variable into a predicate.
// Accepted forms:
//
//	<var>                        truthiness
//	<var> <op> <literal>         comparison
//
// where <op> is one of ==, !=, >, >=, <, <=, in, not in, matches,
// contains, startswith, endswith, and <literal> is a quoted string, a
// number, true/false, null, or a [list, of, literals].
func parse(variable, expression string) (*predicate, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty guard expression")
	}
	if expr == variable {
		return &predicate{op: OpTruthy}, nil
	}

	lhs, opTag, rhs, found := splitOperator(expr)
	if !found {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"guard expression %q has no recognized operator", expression)
	}
	if strings.TrimSpace(lhs) != variable {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"guard expression %q must reference its bound variable %q on the left-hand side", expression, variable)
	}

	operand, err := parseLiteral(strings.TrimSpace(rhs))
	if err != nil {
		return nil, err
	}

	p := &predicate{op: opTag, operand: operand}

	switch opTag {
	case OpIn, OpNotIn:
		if _, ok := operand.([]any); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"operator %q requires a [list] operand in %q", opTag, expression)
		}
	case OpMatches:
		pattern, ok := operand.(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"operator \"matches\" requires a quoted pattern in %q", expression)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid pattern in %q: %s", expression, err.Error()).WithCause(err)
		}
		p.re = re
	case OpContains, OpStartsWith, OpEndsWith:
		if _, ok := operand.(string); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"operator %q requires a quoted string operand in %q", opTag, expression)
		}
	}

	return p, nil
}

// splitOperator locates the first operator occurrence outside quotes and
// splits the expression around it.
func splitOperator(expr string) (lhs string, op Op, rhs string, found bool) {
	for _, w := range wordOps {
		if idx := indexOutsideQuotes(expr, w.token); idx >= 0 {
			return expr[:idx], w.op, expr[idx+len(w.token):], true
		}
	}
	for _, s := range symbolOps {
		if idx := indexOutsideQuotes(expr, s.token); idx >= 0 {
			return expr[:idx], s.op, expr[idx+len(s.token):], true
		}
	}
	return "", 0, "", false
}

// indexOutsideQuotes returns the index of the first occurrence of token that
// is not inside a single- or double-quoted literal, or -1.
func indexOutsideQuotes(s, token string) int {
	var quote byte
	for i := 0; i+len(token) <= len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if s[i:i+len(token)] == token {
			return i
		}
	}
	return -1
}

// parseLiteral parses a literal: quoted string, number, bool, null, or list.
func parseLiteral(s string) (any, error) {
	if s == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "missing guard operand")
	}

	switch {
	case s[0] == '\'' || s[0] == '"':
		if len(s) < 2 || s[len(s)-1] != s[0] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unterminated string literal %s", s)
		}
		return s[1 : len(s)-1], nil
	case s[0] == '[':
		if s[len(s)-1] != ']' {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unterminated list literal %s", s)
		}
		return parseList(s[1 : len(s)-1])
	case s == "true":
		return true, nil
	case s == "false":
		return false, nil
	case s == "null":
		return nil, nil
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unrecognized guard operand %q", s)
		}
		return f, nil
	}
}

// parseList splits a comma-separated list body, honoring quoted elements.
func parseList(body string) (any, error) {
	var items []any
	var cur strings.Builder
	var quote byte

	flush := func() error {
		raw := strings.TrimSpace(cur.String())
		cur.Reset()
		if raw == "" {
			return nil
		}
		item, err := parseLiteral(raw)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == ',':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteByte(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return items, nil
}
