package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/botflow/internal/store"
)

// Janitor expires stale sessions on a cron schedule. A session is stale when
// it has been active but untouched longer than the configured idle window.
type Janitor struct {
	store    store.Store
	schedule cron.Schedule
	maxIdle  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a Janitor. The expression uses standard five-field cron
// syntax (minute, hour, day of month, month, day of week).
func NewJanitor(st store.Store, cronExpr string, maxIdle time.Duration, logger *slog.Logger) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cronExpr, err)
	}
	if maxIdle <= 0 {
		return nil, fmt.Errorf("janitor idle window must be positive, got %s", maxIdle)
	}
	return &Janitor{
		store:    st,
		schedule: schedule,
		maxIdle:  maxIdle,
		logger:   logger,
	}, nil
}

// Start launches the background expiry loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.mu.Unlock()

	go j.loop(loopCtx)
	j.logger.Info("janitor started", slog.Duration("max_idle", j.maxIdle))
	return nil
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.Tick(ctx)
		}
	}
}

// Tick runs one expiry pass. Exported so operators can force a sweep.
func (j *Janitor) Tick(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.maxIdle)
	n, err := j.store.ExpireSessionsBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("session expiry failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		j.logger.Info("expired stale sessions", slog.Int64("count", n))
	}
}

// Stop gracefully shuts down the janitor.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel == nil {
		return nil
	}

	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil

	j.logger.Info("janitor stopped")
	return nil
}
