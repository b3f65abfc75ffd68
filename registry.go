package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SessionRegistry maps session IDs to the sessions serving them. A StreamableHTTPServer owns
// one; it is exported so several servers can live in one process, each with its own registry.
//
// The check for an existing ID and the insertion of a new session happen under one lock,
// so two initializations can never both claim the same ID.
type SessionRegistry[S Session] struct {
	mu       sync.RWMutex
	sessions map[string]S

	closeLimit int
	logger     *slog.Logger
}

var (
	// ErrSessionExists is returned by Register when the ID is already taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned when an operation names a session the registry doesn't hold.
	ErrSessionNotFound = errors.New("session not found")
)

const defaultRegistryCloseLimit = 16

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry[S Session](logger *slog.Logger) *SessionRegistry[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry[S]{
		sessions:   make(map[string]S),
		closeLimit: defaultRegistryCloseLimit,
		logger:     logger,
	}
}

// Register stores s under id, failing with ErrSessionExists if id is in use.
func (r *SessionRegistry[S]) Register(id string, s S) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("failed to register session %s: %w", id, ErrSessionExists)
	}
	r.sessions[id] = s
	return nil
}

// Load returns the session registered under id.
func (r *SessionRegistry[S]) Load(id string) (S, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the entry for id and reports whether there was one.
func (r *SessionRegistry[S]) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of registered sessions.
func (r *SessionRegistry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// IDs returns the registered session IDs in sorted order.
func (r *SessionRegistry[S]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.sessions))
}

// CloseAll empties the registry and stops every session it held, once each. A session whose
// Stop panics is logged and skipped so the others still get closed. CloseAll returns when all
// sessions are stopped or ctx is done, whichever comes first.
func (r *SessionRegistry[S]) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]S)
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(r.closeLimit)

	for id, sess := range sessions {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("failed to close session",
						slog.String("sessionID", id),
						slog.Any("panic", rec))
				}
			}()
			sess.Stop()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("sessions still closing after context done",
			slog.Int("sessions", len(sessions)),
			slog.String("err", ctx.Err().Error()))
	}
}
