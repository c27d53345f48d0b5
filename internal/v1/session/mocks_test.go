package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/meshplay/signaling/internal/v1/auth"
	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/ratelimit"
	"github.com/meshplay/signaling/internal/v1/reconnect"
	"github.com/meshplay/signaling/internal/v1/registry"
)

// mockConn scripts the client side of a session: frames pushed into inbound
// come out of ReadMessage, and everything the writer sends is recorded.
type mockConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	frames    [][]byte // text frames as written, possibly batched
	readLimit int64
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *mockConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (c *mockConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// envelopes flattens the written frames, expanding batched array frames.
func (c *mockConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	frames := make([][]byte, len(c.frames))
	copy(frames, c.frames)
	c.mu.Unlock()

	var out []protocol.Envelope
	for _, frame := range frames {
		if len(frame) > 0 && frame[0] == '[' {
			var batch []protocol.Envelope
			require.NoError(t, json.Unmarshal(frame, &batch))
			out = append(out, batch...)
			continue
		}
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

// waitForType blocks until an envelope of the given type has been written.
func (c *mockConn) waitForType(t *testing.T, msgType string) protocol.Envelope {
	t.Helper()
	var found protocol.Envelope
	require.Eventually(t, func() bool {
		for _, env := range c.envelopes(t) {
			if env.Type == msgType {
				found = env
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s envelope written", msgType)
	return found
}

func send(t *testing.T, c *mockConn, msgType string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	select {
	case c.inbound <- data:
	case <-time.After(time.Second):
		t.Fatalf("inbound queue stuck sending %s", msgType)
	}
}

func sendRaw(t *testing.T, c *mockConn, data []byte) {
	t.Helper()
	select {
	case c.inbound <- data:
	case <-time.After(time.Second):
		t.Fatal("inbound queue stuck")
	}
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// testDeps builds real collaborators on default configuration. Batching is
// off by default so each envelope lands in its own frame.
func testDeps(mutate func(*config.Config)) Deps {
	cfg := config.Default()
	cfg.WebSocket.EnableBatching = false
	if mutate != nil {
		mutate(cfg)
	}
	return Deps{
		Cfg:     cfg,
		Auth:    &auth.MockAuthenticator{},
		Limiter: ratelimit.New(cfg.RateLimit, nil),
		Registry: registry.New(registry.Options{
			MaxRoomsPerGame: cfg.Server.MaxRoomsPerGame,
			RoomCodeLength:  cfg.Protocol.RoomCodeLength,
			EventBufferSize: cfg.Server.EventBufferSize,
			LobbyCountdown:  cfg.Server.LobbyCountdown,
		}),
		Reconnect: reconnect.NewStore(cfg.Server.ReconnectionWindow),
	}
}

func newTestManager(t *testing.T, mutate func(*config.Config)) *Manager {
	t.Helper()
	m := NewManager(testDeps(mutate))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

func attach(t *testing.T, m *Manager, ip string) (*Session, *mockConn) {
	t.Helper()
	conn := newMockConn()
	s, err := m.Attach(conn, ip)
	require.NoError(t, err)
	return s, conn
}

// createTestRoom drives the full create flow and returns the snapshot from
// the RoomCreated acknowledgement.
func createTestRoom(t *testing.T, c *mockConn) protocol.RoomSnapshot {
	t.Helper()
	send(t, c, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		GameName:   "space-race",
		PlayerName: "alice",
	})
	return decode[protocol.RoomSnapshot](t, c.waitForType(t, protocol.TypeRoomCreated))
}
