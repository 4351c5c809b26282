package machine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/botflow/internal/understanding"
	"github.com/rendis/botflow/pkg/schema"
)

// recorder collects outbound messages for assertions.
type recorder struct {
	msgs []schema.Message
}

func (r *recorder) send(msg schema.Message) {
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) bodies() []string {
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Body
	}
	return out
}

// askNameDefinition is the canonical single-question workflow: greet, collect
// a name, thank, end.
func askNameDefinition(t *testing.T) *Definition {
	t.Helper()
	d := New("ask_name")
	require.NoError(t, d.AddTransition(StartState, "greet"))
	require.NoError(t, d.AddDisplayTask("greet", "ask_name_display", "Hello there!", nil))
	require.NoError(t, d.AddInputTask("ask_name", "What is your name?", InputTaskConfig{
		SuccessDest: "thanks",
		FailDest:    "ask_name_display",
		WriteVar:    "name",
	}))
	require.NoError(t, d.AddDisplayTask("thanks", EndState, "Nice to meet you, ${{vars.name}}!", nil))
	require.NoError(t, d.Outputs("name"))
	require.NoError(t, d.Finalize())
	return d
}

func newTestRuntime(t *testing.T, d *Definition) (*Runtime, *recorder) {
	t.Helper()
	rec := &recorder{}
	rt, err := NewRuntime(d,
		WithSendMessage(rec.send),
		WithParser(understanding.NewRuleBased()),
	)
	require.NoError(t, err)
	return rt, rec
}

func TestNewRuntimeRequiresFinalizedDefinition(t *testing.T) {
	_, err := NewRuntime(New("raw"))
	require.Error(t, err)
	_, err = NewRuntime(nil)
	require.Error(t, err)
}

func TestAskNameConversation(t *testing.T) {
	d := askNameDefinition(t)
	rt, rec := newTestRuntime(t, d)
	ctx := context.Background()

	// Turn 1: the run greets, prompts, and suspends for the reply.
	outcome, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Running)
	assert.Equal(t, schema.StatusWaitForUserInput, rt.Status())
	assert.Equal(t, "ask_name_input", rt.State())
	assert.Equal(t, []string{"Hello there!", "What is your name?"}, rec.bodies())

	// Turn 2: the reply is parsed, the thank-you is interpolated, the run ends.
	rt.SubmitInput("Alice")
	outcome, err = rt.Run(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Running)
	assert.Equal(t, map[string]any{"name": "Alice"}, outcome.Outputs)
	assert.Equal(t, schema.StatusEnd, rt.Status())
	assert.Equal(t, "Nice to meet you, Alice!", rec.msgs[len(rec.msgs)-1].Body)
}

func TestInputTaskFailPathReprompts(t *testing.T) {
	d := askNameDefinition(t)
	rt, rec := newTestRuntime(t, d)
	ctx := context.Background()

	_, err := rt.Run(ctx)
	require.NoError(t, err)

	// A blank reply is not confident: the run loops back to the prompt and
	// suspends again instead of ending.
	rt.SubmitInput("   ")
	outcome, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Running)
	assert.Equal(t, "ask_name_input", rt.State())
	assert.Equal(t, "What is your name?", rec.msgs[len(rec.msgs)-1].Body)
	_, hasName := rt.Variables()["name"]
	assert.False(t, hasName)

	rt.SubmitInput("Bob")
	outcome, err = rt.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Bob"}, outcome.Outputs)
}

func TestInputTaskValidationExpression(t *testing.T) {
	d := New("ask_age")
	require.NoError(t, d.AddTransition(StartState, "ask_age_display"))
	require.NoError(t, d.AddInputTask("ask_age", "How old are you?", InputTaskConfig{
		SuccessDest:    EndState,
		FailDest:       "ask_age_display",
		WriteVar:       "age",
		ValidationExpr: "age >= 18",
	}))
	require.NoError(t, d.Outputs("age"))
	require.NoError(t, d.Finalize())

	rt, _ := newTestRuntime(t, d)
	ctx := context.Background()

	_, err := rt.Run(ctx)
	require.NoError(t, err)

	// Parsed fine but fails validation: re-prompt.
	rt.SubmitInput("15")
	outcome, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Running)

	rt.SubmitInput("21")
	outcome, err = rt.Run(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Running)
	assert.Equal(t, map[string]any{"age": float64(21)}, outcome.Outputs)
}

func TestInputTaskOptionsEmitInteractiveMessage(t *testing.T) {
	d := New("pick_language")
	require.NoError(t, d.AddTransition(StartState, "lang_display"))
	require.NoError(t, d.AddInputTask("lang", "Pick a language", InputTaskConfig{
		SuccessDest: EndState,
		FailDest:    "lang_display",
		WriteVar:    "language",
		Display:     &DisplayOpts{Options: []string{"English", "Hindi"}},
	}))
	require.NoError(t, d.Outputs("language"))
	require.NoError(t, d.Finalize())

	rt, rec := newTestRuntime(t, d)
	ctx := context.Background()

	_, err := rt.Run(ctx)
	require.NoError(t, err)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, schema.MessageInteractive, rec.msgs[0].Kind)
	require.Len(t, rec.msgs[0].Options, 2)
	assert.Equal(t, "1", rec.msgs[0].Options[0].ID)

	rt.SubmitInput("2")
	outcome, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"language": "Hindi"}, outcome.Outputs)
}

func TestBranchingTask(t *testing.T) {
	build := func(t *testing.T) *Definition {
		d := New("age_gate")
		require.NoError(t, d.AddTransition(StartState, "check_age"))
		require.NoError(t, d.AddBranchingTask("check_age", []BranchRule{
			{Dest: "minor", Variable: "age", Expression: "age < 18"},
			{Dest: "adult"},
		}))
		require.NoError(t, d.AddDisplayTask("minor", EndState, "Sorry, adults only.", nil))
		require.NoError(t, d.AddDisplayTask("adult", EndState, "Welcome in!", nil))
		require.NoError(t, d.Finalize())
		return d
	}

	tests := []struct {
		name string
		age  float64
		body string
	}{
		{"minor", 15, "Sorry, adults only."},
		{"adult", 21, "Welcome in!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, rec := newTestRuntime(t, build(t))
			rt.Initialise(map[string]any{"age": tt.age})
			outcome, err := rt.Run(context.Background())
			require.NoError(t, err)
			assert.False(t, outcome.Running)
			assert.Equal(t, []string{tt.body}, rec.bodies())
		})
	}
}

func TestCallbackSuspension(t *testing.T) {
	d := New("payment")
	require.NoError(t, d.AddState("await_webhook"))
	require.NoError(t, d.Handle("await_webhook", func(_ context.Context, rt *Runtime) error {
		rt.status = schema.StatusWaitForMe
		rt.status = schema.StatusWaitForCallback
		return nil
	}))
	require.NoError(t, d.AddState("resume"))
	require.NoError(t, d.Handle("resume", func(_ context.Context, rt *Runtime) error {
		rt.status = schema.StatusWaitForMe
		if cb, ok := rt.CurrentCallback(); ok {
			rt.variables["payment_status"] = cb
		}
		rt.status = schema.StatusMoveForward
		return nil
	}))
	require.NoError(t, d.AddTransition(StartState, "await_webhook"))
	require.NoError(t, d.AddTransition("await_webhook", "resume"))
	require.NoError(t, d.AddTransition("resume", EndState))
	require.NoError(t, d.Outputs("payment_status"))
	require.NoError(t, d.Finalize())

	rt, _ := newTestRuntime(t, d)
	ctx := context.Background()

	outcome, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Running)
	assert.Equal(t, schema.StatusWaitForCallback, rt.Status())

	// User input must not wake a callback wait.
	rt.SubmitInput("hello?")
	assert.Equal(t, schema.StatusWaitForCallback, rt.Status())

	rt.SubmitCallback("captured")
	outcome, err = rt.Run(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Running)
	assert.Equal(t, "captured", outcome.Outputs["payment_status"])
}

func TestUnsettledHandlerStatusIsAnError(t *testing.T) {
	d := New("broken")
	require.NoError(t, d.AddState("limbo"))
	require.NoError(t, d.Handle("limbo", func(_ context.Context, rt *Runtime) error {
		rt.status = schema.StatusWaitForMe
		return nil
	}))
	require.NoError(t, d.AddTransition(StartState, "limbo"))
	require.NoError(t, d.AddTransition("limbo", EndState))
	require.NoError(t, d.Finalize())

	rt, _ := newTestRuntime(t, d)
	_, err := rt.Run(context.Background())
	require.Error(t, err)
	ferr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, ferr.Code)
	assert.Equal(t, "limbo", ferr.State)
}

func TestUndeclaredOutputIsNil(t *testing.T) {
	d := New("sparse")
	require.NoError(t, d.AddState("work"))
	require.NoError(t, d.Handle("work", func(_ context.Context, rt *Runtime) error {
		rt.variables["present"] = "yes"
		rt.status = schema.StatusMoveForward
		return nil
	}))
	require.NoError(t, d.AddTransition(StartState, "work"))
	require.NoError(t, d.AddTransition("work", EndState))
	require.NoError(t, d.Outputs("present", "absent"))
	require.NoError(t, d.Finalize())

	rt, _ := newTestRuntime(t, d)
	outcome, err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"present": "yes", "absent": nil}, outcome.Outputs)
}
