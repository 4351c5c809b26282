package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract for conversation sessions.
// All implementations must be safe for concurrent use.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	SaveSnapshot(ctx context.Context, id string, update SessionUpdate) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Turn log (append-only)
	AppendTurn(ctx context.Context, turn *Turn) error
	GetTurns(ctx context.Context, sessionID string, since int64) ([]*Turn, error)

	// Maintenance
	ExpireSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
