package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/botflow/internal/machine"
	"github.com/rendis/botflow/internal/store"
	"github.com/rendis/botflow/pkg/schema"
)

func askNameBot(t *testing.T) *machine.Definition {
	t.Helper()
	d := machine.New("ask_name")
	require.NoError(t, d.AddTransition(machine.StartState, "greet"))
	require.NoError(t, d.AddDisplayTask("greet", "ask_name_display", "Hello there!", nil))
	require.NoError(t, d.AddInputTask("ask_name", "What is your name?", machine.InputTaskConfig{
		SuccessDest: machine.EndState,
		FailDest:    "ask_name_display",
		WriteVar:    "name",
	}))
	require.NoError(t, d.Outputs("name"))
	require.NoError(t, d.Finalize())
	return d
}

func newTestRunner(t *testing.T) (*Runner, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	r := New(st, slogt.New(t))
	require.NoError(t, r.RegisterBot(askNameBot(t)))
	return r, st
}

func strp(s string) *string { return &s }

func TestRegisterBot(t *testing.T) {
	r := New(store.NewMemoryStore(), slogt.New(t))

	require.Error(t, r.RegisterBot(nil))
	require.Error(t, r.RegisterBot(machine.New("raw")))

	def := askNameBot(t)
	require.NoError(t, r.RegisterBot(def))
	require.Error(t, r.RegisterBot(def))

	got, err := r.Bot("ask_name")
	require.NoError(t, err)
	assert.Same(t, def, got)

	_, err = r.Bot("ghost")
	require.Error(t, err)
}

func TestProcessFullConversation(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()

	id, err := r.StartSession(ctx, "ask_name", "user-42")
	require.NoError(t, err)

	// Kick-off turn: no event payload, the bot speaks first and suspends.
	res, err := r.Process(ctx, id, Event{})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "Hello there!", res.Messages[0].Body)
	assert.Equal(t, "What is your name?", res.Messages[1].Body)

	sess, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, sess.Status)
	require.NotEmpty(t, sess.Snapshot)
	snap, err := schema.DecodeSnapshot(sess.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, "ask_name_input", snap.Main.State)
	assert.Equal(t, schema.StatusWaitForUserInput, snap.Main.Status)

	// Reply turn: the run completes and the session is sealed.
	res, err = r.Process(ctx, id, Event{Input: strp("Alice")})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, map[string]any{"name": "Alice"}, res.Outputs)

	sess, err = st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, sess.Status)
	require.NotNil(t, sess.CompletedAt)
	var outputs map[string]any
	require.NoError(t, json.Unmarshal(sess.Outputs, &outputs))
	assert.Equal(t, "Alice", outputs["name"])

	// The stored snapshot is the reset run, not the terminal one.
	snap, err = schema.DecodeSnapshot(sess.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, machine.StartState, snap.Main.State)

	// Further events on a completed session are rejected.
	_, err = r.Process(ctx, id, Event{Input: strp("again")})
	require.Error(t, err)
}

func TestProcessRecordsTurns(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()

	id, err := r.StartSession(ctx, "ask_name", "")
	require.NoError(t, err)

	_, err = r.Process(ctx, id, Event{})
	require.NoError(t, err)
	_, err = r.Process(ctx, id, Event{Input: strp("Alice")})
	require.NoError(t, err)

	turns, err := st.GetTurns(ctx, id, 0)
	require.NoError(t, err)
	require.NotEmpty(t, turns)

	var ins, outs int
	for _, turn := range turns {
		switch turn.Direction {
		case store.TurnIn:
			ins++
		case store.TurnOut:
			outs++
		}
	}
	assert.Equal(t, 1, ins)
	assert.Equal(t, 2, outs) // greet and prompt; the completing turn emits nothing
}

func TestProcessUnknownSession(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Process(context.Background(), "ghost", Event{})
	require.Error(t, err)
	ferr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, ferr.Code)
}

func TestStartSessionUnknownBot(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.StartSession(context.Background(), "ghost", "")
	require.Error(t, err)
}

func TestJanitorTick(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID:        "stale",
		BotName:   "ask_name",
		CreatedAt: time.Now().UTC().Add(-72 * time.Hour),
		UpdatedAt: time.Now().UTC().Add(-72 * time.Hour),
	}))
	require.NoError(t, st.CreateSession(ctx, &store.Session{ID: "fresh", BotName: "ask_name"}))

	j, err := NewJanitor(st, "0 * * * *", 24*time.Hour, slogt.New(t))
	require.NoError(t, err)
	j.Tick(ctx)

	sess, err := st.GetSession(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.SessionExpired, sess.Status)

	sess, err = st.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, sess.Status)
}

func TestJanitorRejectsBadConfig(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := NewJanitor(st, "not a cron", time.Hour, slogt.New(t))
	require.Error(t, err)
	_, err = NewJanitor(st, "0 * * * *", 0, slogt.New(t))
	require.Error(t, err)
}

func TestJanitorStartStop(t *testing.T) {
	st := store.NewMemoryStore()
	j, err := NewJanitor(st, "* * * * *", time.Hour, slogt.New(t))
	require.NoError(t, err)

	require.NoError(t, j.Start(context.Background()))
	require.Error(t, j.Start(context.Background()))
	require.NoError(t, j.Stop())
	// Stop is idempotent.
	require.NoError(t, j.Stop())
}
