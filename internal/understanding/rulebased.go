package understanding

import (
	"context"
	"strconv"
	"strings"
)

// RuleBased is the default Service implementation: deterministic option
// matching and scalar coercion with no external calls. Deployments that need
// free-text understanding swap in an EnvelopeService (or their own Service)
// at runner construction.
type RuleBased struct{}

// NewRuleBased creates the default rule-based service.
func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

// Parse interprets the user input. For selection tasks it matches by option
// ID, 1-based index, exact title, or unique title prefix (all
// case-insensitive). For free-text tasks it coerces numerals and booleans
// and otherwise returns the trimmed text.
func (s *RuleBased) Parse(_ context.Context, req Request) (Result, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return Result{}, nil
	}

	if len(req.Options) > 0 {
		return matchOption(input, req), nil
	}

	return Result{OK: true, Value: coerce(input)}, nil
}

func matchOption(input string, req Request) Result {
	lower := strings.ToLower(input)

	for _, opt := range req.Options {
		if input == opt.ID || strings.EqualFold(input, opt.Title) {
			return Result{OK: true, Value: opt.Title, OptionID: opt.ID}
		}
	}

	// 1-based index, the way numbered lists are usually answered.
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(req.Options) {
		opt := req.Options[n-1]
		return Result{OK: true, Value: opt.Title, OptionID: opt.ID}
	}

	// Unique title prefix.
	var hit *Result
	for _, opt := range req.Options {
		if strings.HasPrefix(strings.ToLower(opt.Title), lower) {
			if hit != nil {
				return Result{} // ambiguous
			}
			hit = &Result{OK: true, Value: opt.Title, OptionID: opt.ID}
		}
	}
	if hit != nil {
		return *hit
	}
	return Result{}
}

// coerce turns numeric and boolean answers into typed values so guards can
// compare them without string juggling.
func coerce(input string) any {
	if f, err := strconv.ParseFloat(input, 64); err == nil {
		return f
	}
	switch strings.ToLower(input) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return input
}
