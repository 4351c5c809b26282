// Package expressions provides sandboxed expression evaluation for
// engine-backed guards and for message-template interpolation. All engines
// are closed languages with no host-code access; compiled programs are
// cached and shared across sessions.
package expressions

import "context"

// Engine evaluates an expression against a data map. Implementations must be
// safe for concurrent use.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
