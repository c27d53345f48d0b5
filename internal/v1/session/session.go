// Package session drives one WebSocket connection from accept to close: the
// authentication handshake, inbound message routing, the batched outbound
// writer, and the disconnect path that parks room members for reconnection.
//
// A Session is the concrete types.Sender handed to rooms. Its outbound queue
// is a bounded channel; Enqueue never blocks, and a full queue triggers the
// slow-consumer close applied by the room layer.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/auth"
	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/ratelimit"
	"github.com/meshplay/signaling/internal/v1/reconnect"
	"github.com/meshplay/signaling/internal/v1/registry"
	"github.com/meshplay/signaling/internal/v1/types"
)

// State is the session lifecycle state. Transitions are strictly forward:
// PendingAuth -> Active -> Closing -> Closed. Without the auth handshake the
// session starts in Active.
type State int32

const (
	StatePendingAuth State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePendingAuth:
		return "PendingAuth"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Conn is the subset of *websocket.Conn the session uses, abstracted for
// tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Deps bundles the collaborators every session needs.
type Deps struct {
	Cfg       *config.Config
	Auth      auth.Authenticator
	Limiter   *ratelimit.Limiter
	Registry  *registry.Registry
	Reconnect *reconnect.Store
}

// playerRef records the room membership held by this session. The session
// never holds a *room.Player: lookups go through the registry so a destroyed
// room cannot leave a dangling reference.
type playerRef struct {
	roomID   types.RoomID
	playerID types.PlayerID
}

type spectatorRef struct {
	roomID      types.RoomID
	spectatorID types.SpectatorID
}

// Session is one WebSocket connection.
type Session struct {
	id       types.SessionID
	remoteIP string
	conn     Conn
	deps     Deps
	manager  *Manager
	ctx      context.Context

	mu        sync.Mutex
	state     State
	app       *auth.AppContext
	player    *playerRef
	spectator *spectatorRef
	// reconnectSecret is minted at join and delivered in the room snapshot;
	// it becomes the token value if the session later disconnects.
	reconnectSecret string
	reason          types.CloseReason
	authTimer       *time.Timer

	out       chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	lastActivity atomic.Int64
	createdAt    time.Time
}

func newSession(conn Conn, remoteIP string, deps Deps, m *Manager) *Session {
	id := types.NewSessionID()
	s := &Session{
		id:        id,
		remoteIP:  remoteIP,
		conn:      conn,
		deps:      deps,
		manager:   m,
		ctx:       logging.WithSession(context.Background(), uuid.NewString(), string(id)),
		state:     StateActive,
		out:       make(chan protocol.Envelope, deps.Cfg.WebSocket.OutboundQueueSize),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	s.touch()
	return s
}

// start arms the auth handshake and launches the read and write pumps.
func (s *Session) start() {
	s.conn.SetReadLimit(s.deps.Cfg.Security.MaxMessageSize)

	if s.deps.Cfg.Security.RequireWebsocketAuth {
		s.mu.Lock()
		s.state = StatePendingAuth
		s.authTimer = time.AfterFunc(s.deps.Cfg.WebSocket.AuthTimeout, s.onAuthTimeout)
		s.mu.Unlock()
	}

	metrics.IncConnection()
	logging.Info(s.ctx, "Session attached",
		zap.String("remoteIp", s.remoteIP),
		zap.Bool("authRequired", s.deps.Cfg.Security.RequireWebsocketAuth))

	s.wg.Add(2)
	go s.writePump()
	go s.readPump()
}

func (s *Session) onAuthTimeout() {
	if s.State() != StatePendingAuth {
		return
	}
	logging.Warn(s.ctx, "Authentication handshake timed out")
	s.sendAuthError("authentication timed out", protocol.CodeAuthenticationTimeout)
	s.Close(types.CloseReasonAuthTimeout)
}

// SessionID implements types.Sender.
func (s *Session) SessionID() types.SessionID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseReason returns the reason recorded by the first Close call.
func (s *Session) CloseReason() types.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Enqueue implements types.Sender. It never blocks: false means the outbound
// queue is full and the caller applies the slow-consumer policy. Envelopes
// offered to an already-closing session are silently dropped.
func (s *Session) Enqueue(env protocol.Envelope) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

// Close implements types.Sender. Idempotent: only the first reason wins. The
// writer observes done, flushes best-effort, and closes the transport, which
// unblocks the reader and runs the disconnect path.
func (s *Session) Close(reason types.CloseReason) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.state < StateClosing {
			s.state = StateClosing
		}
		s.reason = reason
		if s.authTimer != nil {
			s.authTimer.Stop()
			s.authTimer = nil
		}
		s.mu.Unlock()

		logging.Info(s.ctx, "Session closing", zap.String("reason", string(reason)))
		close(s.done)
	})
}

// Wait blocks until both pumps have exited.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity reports the time of the last inbound frame.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) appContext() *auth.AppContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.app
}

func (s *Session) setPlayer(roomID types.RoomID, playerID types.PlayerID, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player = &playerRef{roomID: roomID, playerID: playerID}
	s.reconnectSecret = secret
}

func (s *Session) clearPlayer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player = nil
	s.reconnectSecret = ""
}

func (s *Session) currentPlayer() *playerRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

func (s *Session) currentSpectator() *spectatorRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spectator
}

// readPump consumes inbound frames until the transport fails or the session
// closes. Exiting the reader runs the disconnect path exactly once.
func (s *Session) readPump() {
	defer s.wg.Done()
	defer s.teardown()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// Oversize frames surface here as well: gorilla terminates the
			// connection when the read limit is exceeded.
			s.Close(types.CloseReasonTransportError)
			return
		}
		s.touch()

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			s.sendError("malformed message envelope", protocol.CodeProtocolViolation)
			continue
		}
		s.route(env)
	}
}

// teardown runs when the reader exits: it releases room state, transitions
// to Closed, and deregisters from the manager.
func (s *Session) teardown() {
	s.Close(types.CloseReasonTransportError)
	s.handleDisconnect()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.manager.detach(s)
	metrics.DecConnection()
	logging.Info(s.ctx, "Session closed", zap.String("reason", string(s.CloseReason())))
}

// handleDisconnect applies the member park-or-leave policy and drops any
// spectator registration.
func (s *Session) handleDisconnect() {
	s.mu.Lock()
	player := s.player
	spectator := s.spectator
	secret := s.reconnectSecret
	reason := s.reason
	s.player = nil
	s.spectator = nil
	s.reconnectSecret = ""
	s.mu.Unlock()

	if player != nil {
		s.releaseMember(player, secret, reason)
	}
	if spectator != nil {
		if r, ok := s.deps.Registry.Lookup(spectator.roomID); ok && !r.Closed() {
			_ = r.RemoveSpectator(spectator.spectatorID, true)
		}
	}
}

func (s *Session) releaseMember(player *playerRef, secret string, reason types.CloseReason) {
	r, ok := s.deps.Registry.Lookup(player.roomID)
	if !ok || r.Closed() {
		return
	}

	srv := s.deps.Cfg.Server
	parkable := srv.EnableReconnection && srv.ReconnectionWindow > 0 &&
		reason != types.CloseReasonServerShutdown

	if !parkable {
		_ = r.RemoveMember(player.playerID, true)
		return
	}

	wasAuthority, lastSeq, err := r.Park(player.playerID)
	if err != nil {
		return
	}
	s.deps.Reconnect.Issue(player.playerID, player.roomID, secret, wasAuthority, lastSeq)
	logging.Info(logging.WithRoom(s.ctx, string(player.roomID)), "Member parked for reconnection",
		zap.String("playerId", string(player.playerID)),
		zap.Bool("wasAuthority", wasAuthority),
		zap.Uint64("lastEventSeq", lastSeq))
}
