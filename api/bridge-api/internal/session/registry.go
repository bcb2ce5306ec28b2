package internal_session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ringbridge/pkg/commons"
)

const shutdownGrace = 30 * time.Second

// Registry tracks live sessions so the HTTP layer can list them, attach
// observers and drain them on shutdown.
type Registry struct {
	logger commons.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(logger commons.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Run registers the session, drives it to completion and removes it. Meant to
// be called from the websocket handler's goroutine.
func (r *Registry) Run(ctx context.Context, session *Session) error {
	r.mu.Lock()
	r.sessions[session.ID()] = session
	count := len(r.sessions)
	r.mu.Unlock()
	r.logger.Infow("Session registered", "sessionId", session.ID(), "active", count)

	defer func() {
		r.mu.Lock()
		delete(r.sessions, session.ID())
		remaining := len(r.sessions)
		r.mu.Unlock()
		r.logger.Infow("Session removed", "sessionId", session.ID(), "active", remaining)
	}()

	return session.Run(ctx)
}

// Get finds a session by its id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetByCallSid finds a session by the provider's call id.
func (r *Registry) GetByCallSid(callSid string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.CallSid() == callSid {
			return s, true
		}
	}
	return nil, false
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots lists every live session for the status endpoint.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Shutdown stops every session and waits for them to finish, bounded by the
// grace period.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	if len(sessions) == 0 {
		return nil
	}
	r.logger.Infof("Draining %d active sessions", len(sessions))

	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			session.Stop()
			select {
			case <-session.Done():
				return nil
			case <-gCtx.Done():
				return commons.NewBridgeError(commons.ErrTimeout,
					"session did not drain before shutdown deadline", gCtx.Err())
			}
		})
	}
	return g.Wait()
}
