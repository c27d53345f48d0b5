package room

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// mockSender records every enqueued envelope. A non-zero capacity makes
// Enqueue report a full queue once reached, for slow-consumer tests.
type mockSender struct {
	id       types.SessionID
	capacity int

	mu     sync.Mutex
	sent   []protocol.Envelope
	closed bool
	reason types.CloseReason
}

func newMockSender(id string) *mockSender {
	return &mockSender{id: types.SessionID(id)}
}

func (m *mockSender) SessionID() types.SessionID { return m.id }

func (m *mockSender) Enqueue(env protocol.Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacity > 0 && len(m.sent) >= m.capacity {
		return false
	}
	m.sent = append(m.sent, env)
	return true
}

func (m *mockSender) Close(reason types.CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.reason = reason
}

func (m *mockSender) isClosed() (bool, types.CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, m.reason
}

func (m *mockSender) envelopes() []protocol.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockSender) sentTypes() []string {
	envs := m.envelopes()
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}

func (m *mockSender) lastOfType(t *testing.T, msgType string) protocol.Envelope {
	t.Helper()
	envs := m.envelopes()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == msgType {
			return envs[i]
		}
	}
	t.Fatalf("no envelope of type %s (got %v)", msgType, m.sentTypes())
	return protocol.Envelope{}
}

func decodePayload[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decoding %s payload: %v", env.Type, err)
	}
	return out
}

// testRoom builds a room with sensible test settings.
func testRoom(settings Settings) *Room {
	if settings.MaxPlayers == 0 {
		settings.MaxPlayers = 8
	}
	if settings.EventBufferSize == 0 {
		settings.EventBufferSize = 64
	}
	return New(types.NewRoomID(), "ABC234", "space-race", settings)
}

// join adds a member with a RoomJoined acknowledgement, as the registry does.
func join(t *testing.T, r *Room, id string, sender types.Sender) *Player {
	t.Helper()
	p, err := r.AddMember(types.PlayerID(id), "player-"+id, sender, protocol.TypeRoomJoined, "secret-"+id)
	if err != nil {
		t.Fatalf("AddMember(%s): %v", id, err)
	}
	return p
}
