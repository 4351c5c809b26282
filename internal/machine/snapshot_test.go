package machine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/botflow/pkg/schema"
)

func TestSnapshotRoundTripContinuesIdentically(t *testing.T) {
	d := askNameDefinition(t)
	ctx := context.Background()

	rt, _ := newTestRuntime(t, d)
	outcome, err := rt.Run(ctx)
	require.NoError(t, err)
	require.True(t, outcome.Running)

	// Persist through the wire format, then resume in a fresh runtime.
	raw, err := rt.Save().Encode()
	require.NoError(t, err)
	snap, err := schema.DecodeSnapshot(raw)
	require.NoError(t, err)

	restored, rec := newTestRuntime(t, d)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, rt.State(), restored.State())
	assert.Equal(t, rt.Status(), restored.Status())

	restored.SubmitInput("Alice")
	outcome, err = restored.Run(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Running)
	assert.Equal(t, map[string]any{"name": "Alice"}, outcome.Outputs)
	assert.Equal(t, "Nice to meet you, Alice!", rec.msgs[len(rec.msgs)-1].Body)
}

func TestSnapshotRoundTripNestedPlugins(t *testing.T) {
	top := threeLevelDefinition(t)
	ctx := context.Background()

	rt, _ := newTestRuntime(t, top)
	outcome, err := rt.Run(ctx)
	require.NoError(t, err)
	require.True(t, outcome.Running)

	raw, err := rt.Save().Encode()
	require.NoError(t, err)
	snap, err := schema.DecodeSnapshot(raw)
	require.NoError(t, err)

	restored, _ := newTestRuntime(t, top)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, schema.StatusWaitForPlugin, restored.Status())
	assert.Equal(t, schema.StatusWaitForUserInput,
		restored.plugins["middle"].plugins["collect_city"].Status())

	restored.SubmitInput("Delhi")
	outcome, err = restored.Run(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Running)
	assert.Equal(t, "Delhi", outcome.Outputs["city"])
}

func TestSaveNormalizesWaitForMe(t *testing.T) {
	d := askNameDefinition(t)
	rt, _ := newTestRuntime(t, d)
	rt.status = schema.StatusWaitForMe

	snap := rt.Save()
	assert.Equal(t, schema.StatusMoveForward, snap.Main.Status)
}

func TestSaveDeepCopiesVariables(t *testing.T) {
	d := askNameDefinition(t)
	rt, _ := newTestRuntime(t, d)
	rt.Initialise(map[string]any{
		"profile": map[string]any{"tags": []any{"a", "b"}},
	})

	snap := rt.Save()
	rt.Variables()["profile"].(map[string]any)["tags"].([]any)[0] = "mutated"
	assert.Equal(t, "a", snap.Main.Variables["profile"].(map[string]any)["tags"].([]any)[0])
}

func TestRestoreRejectsBadSnapshots(t *testing.T) {
	d := askNameDefinition(t)
	rt, _ := newTestRuntime(t, d)

	err := rt.Restore(nil)
	require.Error(t, err)

	err = rt.Restore(&schema.Snapshot{Main: schema.MainState{
		State:  "never_heard_of_it",
		Status: schema.StatusMoveForward,
	}})
	require.Error(t, err)
	ferr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, ferr.Code)

	err = rt.Restore(&schema.Snapshot{Main: schema.MainState{
		State:  StartState,
		Status: schema.Status(42),
	}})
	require.Error(t, err)
}

func TestRestoreIgnoresUnknownPluginEntries(t *testing.T) {
	d := askNameDefinition(t)
	rt, _ := newTestRuntime(t, d)

	err := rt.Restore(&schema.Snapshot{
		Main: schema.MainState{State: StartState, Status: schema.StatusMoveForward},
		Plugins: map[string]*schema.Snapshot{
			"retired_plugin": {Main: schema.MainState{State: "gone", Status: schema.StatusEnd}},
		},
	})
	require.NoError(t, err)
}

func TestRestoreClearsPendingInputs(t *testing.T) {
	d := askNameDefinition(t)
	rt, _ := newTestRuntime(t, d)
	rt.SubmitInput("stale")
	rt.SubmitCallback("stale")

	require.NoError(t, rt.Restore(&schema.Snapshot{
		Main: schema.MainState{State: StartState, Status: schema.StatusMoveForward},
	}))
	_, hasInput := rt.CurrentInput()
	_, hasCallback := rt.CurrentCallback()
	assert.False(t, hasInput)
	assert.False(t, hasCallback)
}
