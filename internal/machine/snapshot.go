package machine

import (
	"github.com/rendis/botflow/pkg/schema"
)

// Save captures the runtime into a recursive snapshot: current state, status,
// a deep copy of the working memory, and the snapshot of every plugin
// runtime. Pending inputs, credentials, and callbacks are deliberately not
// part of the snapshot; a run is only saved between turns, when none are
// pending.
//
// A runtime captured mid-handler (WAIT_FOR_ME) is normalized to MOVE_FORWARD
// so a restored run re-enters cleanly.
func (rt *Runtime) Save() *schema.Snapshot {
	status := rt.status
	if status == schema.StatusWaitForMe {
		status = schema.StatusMoveForward
	}

	snap := &schema.Snapshot{
		Main: schema.MainState{
			State:     rt.state,
			Status:    status,
			Variables: deepCopyMap(rt.variables),
		},
	}
	if len(rt.plugins) > 0 {
		snap.Plugins = make(map[string]*schema.Snapshot, len(rt.plugins))
		for name, child := range rt.plugins {
			snap.Plugins[name] = child.Save()
		}
	}
	return snap
}

// Restore rehydrates the runtime from a snapshot taken against the same
// definition. Plugin entries naming workflows this definition does not own
// are ignored, so a definition can drop a plugin without invalidating stored
// sessions.
func (rt *Runtime) Restore(snap *schema.Snapshot) error {
	if snap == nil {
		return schema.NewError(schema.ErrCodeValidation, "snapshot is nil")
	}
	if !rt.def.states[snap.Main.State] {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"snapshot references unknown state %q in workflow %q", snap.Main.State, rt.def.name)
	}
	if !snap.Main.Status.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"snapshot carries invalid status %d", int(snap.Main.Status))
	}

	rt.state = snap.Main.State
	rt.status = snap.Main.Status
	rt.variables = deepCopyMap(snap.Main.Variables)
	if rt.variables == nil {
		rt.variables = make(map[string]any)
	}
	rt.outputs = make(map[string]any)
	rt.resetInputs()

	for name, childSnap := range snap.Plugins {
		child, ok := rt.plugins[name]
		if !ok {
			continue
		}
		if err := child.Restore(childSnap); err != nil {
			return schema.NewErrorf(schema.ErrCodePlugin,
				"restore plugin %q: %s", name, err.Error()).WithCause(err)
		}
	}
	return nil
}

// deepCopyMap clones JSON-shaped data (maps, slices, scalars). Values of
// other types are shared, which is safe for the immutable scalars the
// understanding service produces.
func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		cp := make([]any, len(tv))
		for i, e := range tv {
			cp[i] = deepCopyValue(e)
		}
		return cp
	default:
		return v
	}
}
