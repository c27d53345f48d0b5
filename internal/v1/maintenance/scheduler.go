// Package maintenance runs the periodic background sweep on a single ticker:
// expired reconnection tokens, expired rooms, and idle sessions.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/reconnect"
	"github.com/meshplay/signaling/internal/v1/registry"
	"github.com/meshplay/signaling/internal/v1/session"
)

// Scheduler owns the maintenance goroutine.
type Scheduler struct {
	registry *registry.Registry
	store    *reconnect.Store
	manager  *session.Manager
	cfg      config.ServerConfig

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(reg *registry.Registry, store *reconnect.Store, mgr *session.Manager, cfg config.ServerConfig) *Scheduler {
	return &Scheduler{
		registry: reg,
		store:    store,
		manager:  mgr,
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the sweep loop at the configured cleanup interval.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.RoomCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep runs one maintenance pass. Token expiry is handled before room
// expiry so an eviction that empties a room stamps its emptySince first and
// the room sweep can pick it up on a later pass.
func (s *Scheduler) Sweep(now time.Time) {
	s.sweepTokens()
	s.sweepRooms(now)
	s.sweepSessions(now)
}

// sweepTokens evicts members whose reconnection window expired, as if they
// had sent LeaveRoom.
func (s *Scheduler) sweepTokens() {
	for _, tok := range s.store.SweepExpired() {
		metrics.ReconnectAttempts.WithLabelValues("expired").Inc()
		r, ok := s.registry.Lookup(tok.RoomID)
		if !ok || r.Closed() {
			continue
		}
		if err := r.RemoveParked(tok.PlayerID); err == nil {
			logging.Info(context.Background(), "Evicted member after reconnection window",
				zap.String("roomId", string(tok.RoomID)),
				zap.String("playerId", string(tok.PlayerID)))
		}
	}
}

func (s *Scheduler) sweepRooms(now time.Time) {
	for _, swept := range s.registry.SweepExpired(now, s.cfg.EmptyRoomTimeout, s.cfg.InactiveRoomTimeout) {
		s.store.DropRoom(swept.RoomID)
	}
}

func (s *Scheduler) sweepSessions(now time.Time) {
	if s.cfg.PingTimeout <= 0 {
		return
	}
	if n := s.manager.SweepIdle(now.Add(-s.cfg.PingTimeout)); n > 0 {
		logging.Info(context.Background(), "Closed idle sessions", zap.Int("count", n))
	}
}
