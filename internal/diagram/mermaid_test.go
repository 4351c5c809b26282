package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/botflow/internal/guard"
	"github.com/rendis/botflow/internal/machine"
)

func TestMermaidRendersStatesAndGuards(t *testing.T) {
	d := machine.New("age_gate")
	require.NoError(t, d.AddState("check"))
	require.NoError(t, d.Handle("check", func(_ context.Context, _ *machine.Runtime) error {
		return nil
	}))
	g, err := guard.Compile("is_minor", "age", "age < 18")
	require.NoError(t, err)
	require.NoError(t, d.AddGuard(g))
	require.NoError(t, d.AddTransition(machine.StartState, "check"))
	require.NoError(t, d.AddGuardedTransition("check", machine.EndState, "is_minor"))
	require.NoError(t, d.AddTransition("check", machine.StartState))
	require.NoError(t, d.Finalize())

	out := Mermaid(d)
	assert.Contains(t, out, "stateDiagram-v2")
	assert.Contains(t, out, "[*] --> zero")
	assert.Contains(t, out, "zero --> check")
	assert.Contains(t, out, "check --> [*]: is_minor")
	assert.Contains(t, out, "check --> zero")
}

func TestMermaidRendersNestedPlugins(t *testing.T) {
	child := machine.New("collect_city")
	require.NoError(t, child.AddTransition(machine.StartState, "ask"))
	require.NoError(t, child.AddDisplayTask("ask", machine.EndState, "Which city?", nil))
	require.NoError(t, child.Finalize())

	parent := machine.New("onboarding")
	require.NoError(t, parent.AddPlugin("collect_city", child))
	require.NoError(t, parent.AddTransition(machine.StartState, "city_step"))
	require.NoError(t, parent.AddPluginTask("city_step", "", "collect_city", nil, nil,
		[]machine.PluginRule{{Dest: machine.EndState}}))
	require.NoError(t, parent.Finalize())

	out := Mermaid(parent)
	assert.Contains(t, out, "state collect_city {")
	assert.Contains(t, out, "ask --> [*]")
}
