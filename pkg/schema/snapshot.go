package schema

import "encoding/json"

// Snapshot is the complete, serializable representation of an in-flight run:
// the run's own state plus, recursively, the state of every nested plugin.
// It is the entire externally durable form of a conversation; restoring it
// must reproduce identical future behavior.
//
// Wire shape:
//
//	{"main": {"state": "...", "status": <int>, "variables": {...}},
//	 "plugins": {"<name>": <same recursive shape>}}
//
// Unknown extra keys are ignored on decode for forward compatibility.
type Snapshot struct {
	Main    MainState            `json:"main"`
	Plugins map[string]*Snapshot `json:"plugins,omitempty"`
}

// MainState is the non-recursive part of a Snapshot.
type MainState struct {
	State     string         `json:"state"`
	Status    Status         `json:"status"`
	Variables map[string]any `json:"variables"`
}

// Encode marshals the snapshot to its stable JSON wire form.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a snapshot from its JSON wire form.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, NewError(ErrCodeValidation, "malformed snapshot").WithCause(err)
	}
	if !snap.Main.Status.Valid() {
		return nil, NewErrorf(ErrCodeValidation, "snapshot has unknown status code %d", int(snap.Main.Status))
	}
	return &snap, nil
}
