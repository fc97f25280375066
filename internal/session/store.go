// Package session keeps one workflow controller per Telegram chat.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"selfie-booth/internal/logging"
	"selfie-booth/internal/workflow"
)

var ErrClosed = errors.New("session registry closed")

// Factory builds the controller for a chat. It is called at most once per
// chat until that chat is swept.
type Factory func(chatID int64) *workflow.Controller

type Options struct {
	New    Factory
	Logger *zerolog.Logger
}

type entry struct {
	ctrl   *workflow.Controller
	cancel context.CancelFunc
}

type Registry struct {
	factory Factory
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[int64]*entry
	closed   bool
	wg       sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		factory:  opts.New,
		logger:   logging.OrNop(opts.Logger).With().Str("component", "sessions").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[int64]*entry),
	}
}

// Get returns the running controller for chatID, starting one if needed.
func (r *Registry) Get(chatID int64) (*workflow.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	return r.getOrCreateLocked(chatID).ctrl, nil
}

// Lookup returns the controller for chatID without creating one.
func (r *Registry) Lookup(chatID int64) (*workflow.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[chatID]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep stops and forgets every controller whose last user action is older
// than idle. Sessions waiting on the backend are kept. It returns the number
// of sessions removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	var stale []*entry
	for chatID, e := range r.sessions {
		if e.ctrl.Snapshot().Busy() || e.ctrl.LastActive().After(cutoff) {
			continue
		}
		delete(r.sessions, chatID)
		stale = append(stale, e)
		r.logger.Debug().Int64("chat", chatID).Msg("session expired")
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.cancel()
	}
	return len(stale)
}

// Run sweeps idle sessions every interval until ctx is done, then closes the
// registry.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.logger.Info().Int("expired", n).Int("active", r.Len()).Msg("idle sessions swept")
			}
		}
	}
}

// Close stops every controller and waits for them to return.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.sessions = make(map[int64]*entry)
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Registry) getOrCreateLocked(chatID int64) *entry {
	if e, ok := r.sessions[chatID]; ok {
		return e
	}

	ctrl := r.factory(chatID)
	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{ctrl: ctrl, cancel: cancel}
	r.sessions[chatID] = e

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := ctrl.Run(ctx); err != nil {
			r.logger.Error().Err(err).Int64("chat", chatID).Msg("session stopped")
		}
	}()

	r.logger.Debug().Int64("chat", chatID).Msg("session started")
	return e
}
