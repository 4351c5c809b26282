// Package understanding defines the narrow interface to the free-text
// understanding collaborator: given a task description, optional enumerated
// options, and raw user text, it returns either a selected option or a
// structured parsed value. The engine only ever sees the Result; service
// internals (LLM calls, remote processes) live behind the Service interface.
package understanding

import (
	"context"

	"github.com/rendis/botflow/pkg/schema"
)

// Request carries everything a service may need to interpret one user turn.
type Request struct {
	// Task describes what is being asked of the user.
	Task string
	// Prompt is the question text that was shown to the user.
	Prompt string
	// Options is the enumerated choice list, when the task is a selection.
	Options []schema.Option
	// Input is the raw inbound user text.
	Input string
	// Validation is the declared validation contract for the target variable,
	// passed through so richer services can shape their output.
	Validation string
	// Credentials is the flat secrets/config mapping for services that call
	// out; never persisted in snapshots.
	Credentials map[string]string
}

// Result is the structured outcome of interpreting a user turn.
// OK=false means the service could not produce a confident value; the
// engine then takes the declared fail-path transition.
type Result struct {
	OK       bool
	Value    any
	OptionID string
}

// Service maps a raw user message to a structured value.
type Service interface {
	Parse(ctx context.Context, req Request) (Result, error)
}
