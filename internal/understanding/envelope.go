package understanding

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/rendis/botflow/pkg/schema"
)

// Transport sends a Request to an external understanding backend and returns
// its raw JSON reply. Implementations own authentication (via
// req.Credentials), retries, and timeouts.
type Transport func(ctx context.Context, req Request) ([]byte, error)

// EnvelopeService adapts an external backend that answers with a JSON
// envelope. The configured gojq query plucks the parsed value out of the
// envelope; a null result (or missing path) means the backend was not
// confident, which routes the turn to the fail path rather than erroring.
type EnvelopeService struct {
	transport Transport
	value     *extractor
	optionID  *extractor
}

// DefaultValueQuery extracts the parsed value from a standard envelope.
const DefaultValueQuery = ".result"

// DefaultOptionQuery extracts the selected option ID from a standard envelope.
const DefaultOptionQuery = ".id"

// NewEnvelopeService creates an EnvelopeService. Empty queries fall back to
// the defaults.
func NewEnvelopeService(transport Transport, valueQuery, optionQuery string) (*EnvelopeService, error) {
	if valueQuery == "" {
		valueQuery = DefaultValueQuery
	}
	if optionQuery == "" {
		optionQuery = DefaultOptionQuery
	}
	value, err := newExtractor(valueQuery)
	if err != nil {
		return nil, err
	}
	optionID, err := newExtractor(optionQuery)
	if err != nil {
		return nil, err
	}
	return &EnvelopeService{transport: transport, value: value, optionID: optionID}, nil
}

// Parse sends the request to the backend and extracts the structured value
// from its JSON reply.
func (s *EnvelopeService) Parse(ctx context.Context, req Request) (Result, error) {
	raw, err := s.transport(ctx, req)
	if err != nil {
		return Result{}, schema.NewError(schema.ErrCodeParse, "understanding backend call failed").WithCause(err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, schema.NewError(schema.ErrCodeParse, "understanding backend returned malformed JSON").WithCause(err)
	}

	if len(req.Options) > 0 {
		id, err := s.optionID.extract(doc)
		if err != nil {
			return Result{}, err
		}
		return resolveOption(id, req.Options), nil
	}

	val, err := s.value.extract(doc)
	if err != nil {
		return Result{}, err
	}
	if val == nil {
		return Result{}, nil
	}
	return Result{OK: true, Value: val}, nil
}

// resolveOption maps an extracted option ID back onto the declared options.
func resolveOption(id any, options []schema.Option) Result {
	s, ok := id.(string)
	if !ok || s == "" {
		return Result{}
	}
	for _, opt := range options {
		if opt.ID == s {
			return Result{OK: true, Value: opt.Title, OptionID: opt.ID}
		}
	}
	return Result{}
}

// extractor is a compiled gojq query. Compiled once, shared across turns.
type extractor struct {
	query string
	code  *gojq.Code
}

func newExtractor(query string) (*extractor, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid extraction query %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"cannot compile extraction query %q: %s", query, err.Error()).WithCause(err)
	}
	return &extractor{query: query, code: code}, nil
}

// extract runs the query and returns its first result. Query misses yield
// nil rather than an error.
func (e *extractor) extract(doc any) (any, error) {
	iter := e.code.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeParse,
			"extraction query %q failed: %s", e.query, err.Error()).WithCause(err)
	}
	return v, nil
}
