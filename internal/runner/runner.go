// Package runner orchestrates persisted conversation sessions: it owns the
// registry of compiled bots, hydrates a runtime from the stored snapshot on
// every inbound event, drives it until it suspends or ends, and persists the
// result. Nothing is written back after a failed turn, so the stored
// snapshot always describes a cleanly suspended run.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/botflow/internal/logging"
	"github.com/rendis/botflow/internal/machine"
	"github.com/rendis/botflow/internal/store"
	"github.com/rendis/botflow/internal/understanding"
	"github.com/rendis/botflow/pkg/schema"
)

// Event is one inbound occurrence for a session: a user reply, an external
// callback, or both absent (the kick-off turn).
type Event struct {
	Input    *string
	Callback *string
}

// TurnResult is what one processed event produced.
type TurnResult struct {
	Completed bool
	Outputs   map[string]any
	Messages  []schema.Message
}

// Runner drives persisted sessions over registered bot definitions.
type Runner struct {
	store  store.Store
	parser understanding.Service
	creds  map[string]string
	logger *slog.Logger

	mu   sync.RWMutex
	bots map[string]*machine.Definition
}

// Option configures a Runner.
type Option func(*Runner)

// WithParser sets the understanding service handed to every runtime.
func WithParser(svc understanding.Service) Option {
	return func(r *Runner) { r.parser = svc }
}

// WithCredentials sets the secrets mapping handed to every runtime.
func WithCredentials(creds map[string]string) Option {
	return func(r *Runner) { r.creds = creds }
}

// New creates a Runner backed by the given store.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:  st,
		parser: understanding.NewRuleBased(),
		logger: logger,
		bots:   make(map[string]*machine.Definition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterBot adds a compiled bot under its name.
func (r *Runner) RegisterBot(def *machine.Definition) error {
	if def == nil || !def.Finalized() {
		return schema.NewError(schema.ErrCodeValidation, "bot definition must be finalized")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bots[def.Name()]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "bot %q already registered", def.Name())
	}
	r.bots[def.Name()] = def
	return nil
}

// Bot returns the registered definition by name.
func (r *Runner) Bot(name string) (*machine.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.bots[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no such bot: %q", name)
	}
	return def, nil
}

// StartSession creates a fresh persisted session for the named bot and
// returns its ID. The conversation begins when the first event is processed.
func (r *Runner) StartSession(ctx context.Context, botName, channelID string) (string, error) {
	if _, err := r.Bot(botName); err != nil {
		return "", err
	}
	id := uuid.NewString()
	err := r.store.CreateSession(ctx, &store.Session{
		ID:        id,
		BotName:   botName,
		ChannelID: channelID,
	})
	if err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "create session").WithCause(err)
	}
	r.logger.InfoContext(logging.WithIDs(ctx, id, botName, ""), "session started")
	return id, nil
}

// Process handles one inbound event for a session: hydrate, submit, drive,
// persist. The snapshot is only written after a clean suspension or
// termination; a turn that errors leaves the stored session untouched.
func (r *Runner) Process(ctx context.Context, sessionID string, ev Event) (*TurnResult, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != store.SessionActive {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"session %q is %s", sessionID, sess.Status)
	}

	def, err := r.Bot(sess.BotName)
	if err != nil {
		return nil, err
	}

	var messages []schema.Message
	rt, err := machine.NewRuntime(def,
		machine.WithSendMessage(func(msg schema.Message) { messages = append(messages, msg) }),
		machine.WithParser(r.parser),
		machine.WithCredentials(r.creds),
	)
	if err != nil {
		return nil, err
	}

	if len(sess.Snapshot) > 0 {
		snap, err := schema.DecodeSnapshot(sess.Snapshot)
		if err != nil {
			return nil, err
		}
		if err := rt.Restore(snap); err != nil {
			return nil, err
		}
	}

	ctx = logging.WithIDs(ctx, sessionID, sess.BotName, rt.State())

	if ev.Input != nil {
		rt.SubmitInput(*ev.Input)
		r.appendTurn(ctx, sessionID, store.TurnIn, rt.State(), *ev.Input)
	}
	if ev.Callback != nil {
		rt.SubmitCallback(*ev.Callback)
		r.appendTurn(ctx, sessionID, store.TurnCallback, rt.State(), *ev.Callback)
	}

	outcome, err := rt.Run(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "turn failed", slog.String("error", err.Error()))
		return nil, err
	}

	for _, msg := range messages {
		payload, merr := json.Marshal(msg)
		if merr != nil {
			continue
		}
		if aerr := r.store.AppendTurn(ctx, &store.Turn{
			SessionID: sessionID,
			Direction: store.TurnOut,
			State:     rt.State(),
			Payload:   payload,
		}); aerr != nil {
			r.logger.WarnContext(ctx, "append turn failed", slog.String("error", aerr.Error()))
		}
	}

	result := &TurnResult{Messages: messages}

	if outcome.Running {
		raw, err := rt.Save().Encode()
		if err != nil {
			return nil, err
		}
		if err := r.store.SaveSnapshot(ctx, sessionID, store.SessionUpdate{Snapshot: raw}); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "persist snapshot").WithCause(err)
		}
		r.logger.DebugContext(ctx, "session suspended",
			slog.String("state", rt.State()), slog.String("status", rt.Status().String()))
		return result, nil
	}

	// The run ended: record outputs, mark the session completed, and store
	// the reset snapshot so the row is inert.
	result.Completed = true
	result.Outputs = outcome.Outputs

	outputsRaw, err := json.Marshal(outcome.Outputs)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal outputs").WithCause(err)
	}
	rt.Reset()
	raw, err := rt.Save().Encode()
	if err != nil {
		return nil, err
	}
	completed := store.SessionCompleted
	now := time.Now().UTC()
	if err := r.store.SaveSnapshot(ctx, sessionID, store.SessionUpdate{
		Status:      &completed,
		Snapshot:    raw,
		Outputs:     outputsRaw,
		CompletedAt: &now,
	}); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "persist completion").WithCause(err)
	}
	r.logger.InfoContext(ctx, "session completed")
	return result, nil
}

// appendTurn records an inbound turn; failures are logged, not fatal.
func (r *Runner) appendTurn(ctx context.Context, sessionID string, dir store.TurnDirection, state, body string) {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return
	}
	if err := r.store.AppendTurn(ctx, &store.Turn{
		SessionID: sessionID,
		Direction: dir,
		State:     state,
		Payload:   payload,
	}); err != nil {
		r.logger.WarnContext(ctx, "append turn failed", slog.String("error", err.Error()))
	}
}
