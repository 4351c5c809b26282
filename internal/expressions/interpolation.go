package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/botflow/pkg/schema"
)

// Interpolator resolves ${{vars.<path>}} references inside message bodies
// before emission. It is stateless and safe for concurrent use.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve replaces every ${{vars.<path>}} token in text with the value found
// at <path> in the run's variable mapping. Scalars are rendered verbatim,
// maps and lists as compact JSON. A reference to a missing variable is a
// PARSE_ERROR: emitting a message with a hole in it would corrupt the
// conversation silently.
func (interp *Interpolator) Resolve(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "${{") {
		return text, nil
	}

	var result strings.Builder
	result.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "${{")
		if idx == -1 {
			result.WriteString(text[i:])
			break
		}

		result.WriteString(text[i : i+idx])
		start := i + idx + 3 // skip "${{".

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeParse, "unclosed ${{ reference in message template")
		}
		end += start

		ref := strings.TrimSpace(text[start:end])
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeParse, "empty ${{  }} reference in message template")
		}

		val, err := resolveRef(ref, vars)
		if err != nil {
			return "", err
		}
		result.WriteString(renderInline(val))

		i = end + 2 // skip "}}".
	}

	return result.String(), nil
}

// resolveRef resolves a dotted reference like "vars.user.city".
func resolveRef(ref string, vars map[string]any) (any, error) {
	parts := strings.Split(ref, ".")
	if parts[0] != "vars" || len(parts) < 2 {
		return nil, schema.NewErrorf(schema.ErrCodeParse,
			"unknown reference ${{%s}}; only vars.<name> is available in message templates", ref)
	}

	var current any = vars
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeParse,
				"cannot descend into %q in ${{%s}}: not a map", part, ref)
		}
		current, ok = m[part]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeParse,
				"variable %q referenced by ${{%s}} is not set", part, ref)
		}
	}
	return current, nil
}

// renderInline renders a resolved value for embedding in message text.
func renderInline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
