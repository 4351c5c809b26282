package store

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle status of a persisted session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// Session is the persisted representation of one conversation run.
type Session struct {
	ID          string          `json:"id"`
	BotName     string          `json:"bot_name"`
	ChannelID   string          `json:"channel_id,omitempty"`
	Status      SessionStatus   `json:"status"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// TurnDirection distinguishes who produced a turn entry.
type TurnDirection string

const (
	TurnIn       TurnDirection = "in"
	TurnOut      TurnDirection = "out"
	TurnCallback TurnDirection = "callback"
)

// Turn is an immutable entry in a session's turn log.
type Turn struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Direction TurnDirection   `json:"direction"`
	State     string          `json:"state,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	BotName   string         `json:"bot_name,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Status    *SessionStatus `json:"status,omitempty"`
	Since     *time.Time     `json:"since,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
}

// SessionUpdate specifies mutable fields of a session.
type SessionUpdate struct {
	Status      *SessionStatus  `json:"status,omitempty"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
