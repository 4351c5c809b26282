package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/botflow/pkg/schema"
)

// MemoryStore is an in-memory Store for tests and the interactive CLI. Data
// does not survive the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	turns    map[string][]*Turn
	nextTurn int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		turns:    make(map[string][]*Turn),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sess.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeStore, "session %q already exists", sess.ID)
	}
	cp := *sess
	if cp.Status == "" {
		cp.Status = SessionActive
	}
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, storeNotFound("session", id)
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, id string, update SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return storeNotFound("session", id)
	}
	if update.Status != nil {
		sess.Status = *update.Status
	}
	if update.Snapshot != nil {
		sess.Snapshot = update.Snapshot
	}
	if update.Outputs != nil {
		sess.Outputs = update.Outputs
	}
	if update.CompletedAt != nil {
		sess.CompletedAt = update.CompletedAt
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, sess := range m.sessions {
		if filter.BotName != "" && sess.BotName != filter.BotName {
			continue
		}
		if filter.ChannelID != "" && sess.ChannelID != filter.ChannelID {
			continue
		}
		if filter.Status != nil && sess.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && sess.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return storeNotFound("session", id)
	}
	delete(m.sessions, id)
	delete(m.turns, id)
	return nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTurn++
	cp := *turn
	cp.ID = m.nextTurn
	cp.Sequence = int64(len(m.turns[turn.SessionID])) + 1
	cp.Timestamp = timeOrNow(cp.Timestamp)
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], &cp)
	turn.ID = cp.ID
	turn.Sequence = cp.Sequence
	return nil
}

func (m *MemoryStore) GetTurns(_ context.Context, sessionID string, since int64) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Turn
	for _, t := range m.turns[sessionID] {
		if t.Sequence > since {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ExpireSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, sess := range m.sessions {
		if sess.Status == SessionActive && sess.UpdatedAt.Before(cutoff) {
			sess.Status = SessionExpired
			sess.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
