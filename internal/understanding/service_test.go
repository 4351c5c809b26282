package understanding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/botflow/pkg/schema"
)

func TestRuleBasedFreeText(t *testing.T) {
	svc := NewRuleBased()
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		ok    bool
		value any
	}{
		{"plain text", "Alice", true, "Alice"},
		{"trims whitespace", "  Alice  ", true, "Alice"},
		{"number", "21", true, float64(21)},
		{"float", "3.5", true, 3.5},
		{"yes", "yes", true, true},
		{"no", "No", true, false},
		{"empty", "   ", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Parse(ctx, Request{Input: tt.input})
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.value, res.Value)
		})
	}
}

func TestRuleBasedOptions(t *testing.T) {
	svc := NewRuleBased()
	ctx := context.Background()
	opts := []schema.Option{
		{ID: "1", Title: "English"},
		{ID: "2", Title: "Hindi"},
		{ID: "3", Title: "Marathi"},
	}

	tests := []struct {
		name   string
		input  string
		ok     bool
		title  string
		option string
	}{
		{"by id", "2", true, "Hindi", "2"},
		{"by title", "hindi", true, "Hindi", "2"},
		{"by unique prefix", "eng", true, "English", "1"},
		{"ambiguous prefix", "ma", true, "Marathi", "3"},
		{"no match", "french", false, "", ""},
		{"index out of range", "9", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Parse(ctx, Request{Input: tt.input, Options: opts})
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.OK)
			if tt.ok {
				assert.Equal(t, tt.title, res.Value)
				assert.Equal(t, tt.option, res.OptionID)
			}
		})
	}
}

func TestEnvelopeServiceFreeText(t *testing.T) {
	transport := func(_ context.Context, req Request) ([]byte, error) {
		assert.Equal(t, "Alice", req.Input)
		return []byte(`{"result": "Alice", "confidence": 0.93}`), nil
	}
	svc, err := NewEnvelopeService(transport, "", "")
	require.NoError(t, err)

	res, err := svc.Parse(context.Background(), Request{Input: "Alice"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "Alice", res.Value)
}

func TestEnvelopeServiceNullResultIsNotConfident(t *testing.T) {
	transport := func(_ context.Context, _ Request) ([]byte, error) {
		return []byte(`{"result": null}`), nil
	}
	svc, err := NewEnvelopeService(transport, "", "")
	require.NoError(t, err)

	res, err := svc.Parse(context.Background(), Request{Input: "???"})
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestEnvelopeServiceOptionSelection(t *testing.T) {
	transport := func(_ context.Context, _ Request) ([]byte, error) {
		return []byte(`{"id": "2"}`), nil
	}
	svc, err := NewEnvelopeService(transport, "", "")
	require.NoError(t, err)

	opts := []schema.Option{{ID: "1", Title: "Yes"}, {ID: "2", Title: "No"}}
	res, err := svc.Parse(context.Background(), Request{Input: "nah", Options: opts})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "No", res.Value)
	assert.Equal(t, "2", res.OptionID)

	// An ID the options list does not contain is treated as not confident.
	transport2 := func(_ context.Context, _ Request) ([]byte, error) {
		return []byte(`{"id": "9"}`), nil
	}
	svc2, err := NewEnvelopeService(transport2, "", "")
	require.NoError(t, err)
	res, err = svc2.Parse(context.Background(), Request{Input: "x", Options: opts})
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestEnvelopeServiceCustomQuery(t *testing.T) {
	transport := func(_ context.Context, _ Request) ([]byte, error) {
		return []byte(`{"data": {"value": 42}}`), nil
	}
	svc, err := NewEnvelopeService(transport, ".data.value", "")
	require.NoError(t, err)

	res, err := svc.Parse(context.Background(), Request{Input: "42"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.EqualValues(t, 42, res.Value)
}

func TestEnvelopeServiceErrors(t *testing.T) {
	_, err := NewEnvelopeService(nil, ".[", "")
	require.Error(t, err)

	svc, err := NewEnvelopeService(func(_ context.Context, _ Request) ([]byte, error) {
		return nil, errors.New("connection refused")
	}, "", "")
	require.NoError(t, err)
	_, err = svc.Parse(context.Background(), Request{Input: "x"})
	require.Error(t, err)
	ferr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeParse, ferr.Code)

	svc, err = NewEnvelopeService(func(_ context.Context, _ Request) ([]byte, error) {
		return []byte(`not json`), nil
	}, "", "")
	require.NoError(t, err)
	_, err = svc.Parse(context.Background(), Request{Input: "x"})
	require.Error(t, err)
}
