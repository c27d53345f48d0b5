package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/ratelimit"
	"github.com/meshplay/signaling/internal/v1/types"
)

// Manager tracks every live session, enforces the per-IP connection cap, and
// drives the idle sweep and graceful shutdown.
type Manager struct {
	deps  Deps
	conns *ratelimit.ConnTracker

	mu       sync.Mutex
	sessions map[types.SessionID]*Session
	closed   bool
}

// NewManager creates a Manager wired to the shared collaborators.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		conns:    ratelimit.NewConnTracker(deps.Cfg.Security.MaxConnectionsPerIP),
		sessions: make(map[types.SessionID]*Session),
	}
}

// Attach registers a new connection and starts its read and write pumps.
// Fails when the per-IP cap would be exceeded or the manager has shut down.
func (m *Manager) Attach(conn Conn, remoteIP string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager is shut down")
	}
	m.mu.Unlock()

	if !m.conns.Acquire(remoteIP) {
		logging.Warn(context.Background(), "Connection limit reached",
			zap.String("remoteIp", remoteIP),
			zap.Int("max", m.deps.Cfg.Security.MaxConnectionsPerIP))
		return nil, fmt.Errorf("%w: %s", protocol.ErrConnectionLimit, remoteIP)
	}

	s := newSession(conn, remoteIP, m.deps, m)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.conns.Release(remoteIP)
		return nil, fmt.Errorf("session manager is shut down")
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.start()
	return s, nil
}

// detach is called by the session teardown path.
func (m *Manager) detach(s *Session) {
	m.mu.Lock()
	_, present := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()

	if present {
		m.conns.Release(s.remoteIP)
	}
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SweepIdle closes sessions with no inbound activity since the cut-off.
func (m *Manager) SweepIdle(cutoff time.Time) int {
	swept := 0
	for _, s := range m.snapshot() {
		if s.LastActivity().Before(cutoff) {
			logging.Info(s.ctx, "Closing idle session",
				zap.Time("lastActivity", s.LastActivity()))
			s.Close(types.CloseReasonIdleTimeout)
			swept++
		}
	}
	return swept
}

// Shutdown refuses new attachments, closes every session, and waits for
// their pumps to finish or the context to expire.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	sessions := m.snapshot()
	for _, s := range sessions {
		s.Close(types.CloseReasonServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		for _, s := range sessions {
			s.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn(context.Background(), "Shutdown timed out waiting for sessions",
			zap.Int("remaining", m.Count()))
	}
}
