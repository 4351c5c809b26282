package schema

import "fmt"

// Status is the control marker indicating why a run is not currently
// advancing (or that it is advancing / done). The integer codes are part of
// the snapshot wire format and must remain stable.
type Status int

const (
	// StatusMoveForward means the engine may advance to the next state.
	StatusMoveForward Status = iota
	// StatusWaitForUserInput means the run is suspended until the user replies.
	StatusWaitForUserInput
	// StatusWaitForCallback means the run is suspended until an async callback arrives.
	StatusWaitForCallback
	// StatusWaitForPlugin means a nested plugin is suspended somewhere below.
	StatusWaitForPlugin
	// StatusWaitForMe is a transient marker set while a handler is executing.
	// Every handler must resolve it to one of the other values before
	// returning; it never appears in a persisted snapshot.
	StatusWaitForMe
	// StatusEnd means the run reached the terminal state and outputs are set.
	StatusEnd
)

var statusNames = map[Status]string{
	StatusMoveForward:      "MOVE_FORWARD",
	StatusWaitForUserInput: "WAIT_FOR_USER_INPUT",
	StatusWaitForCallback:  "WAIT_FOR_CALLBACK",
	StatusWaitForPlugin:    "WAIT_FOR_PLUGIN",
	StatusWaitForMe:        "WAIT_FOR_ME",
	StatusEnd:              "END",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Valid reports whether s is one of the defined status codes.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Suspended reports whether s is one of the WAIT_* codes that halt the run
// loop until an external event arrives.
func (s Status) Suspended() bool {
	switch s {
	case StatusWaitForUserInput, StatusWaitForCallback, StatusWaitForPlugin:
		return true
	default:
		return false
	}
}
