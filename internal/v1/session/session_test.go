package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

func TestPingPong(t *testing.T) {
	m := newTestManager(t, nil)
	s, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypePing, nil)
	conn.waitForType(t, protocol.TypePong)
	assert.Equal(t, StateActive, s.State())
}

func TestMalformedFrame_AnswersAndStaysOpen(t *testing.T) {
	m := newTestManager(t, nil)
	s, conn := attach(t, m, "10.0.0.1")

	sendRaw(t, conn, []byte("{not json"))
	env := conn.waitForType(t, protocol.TypeError)
	payload := decode[protocol.ErrorPayload](t, env)
	assert.Equal(t, protocol.CodeProtocolViolation, payload.ErrorCode)
	assert.Equal(t, StateActive, s.State())

	// The session still serves traffic afterwards.
	send(t, conn, protocol.TypePing, nil)
	conn.waitForType(t, protocol.TypePong)
}

func TestUnknownMessageType(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")

	send(t, conn, "Teleport", nil)
	payload := decode[protocol.ErrorPayload](t, conn.waitForType(t, protocol.TypeError))
	assert.Equal(t, protocol.CodeInvalidMessage, payload.ErrorCode)
}

func TestJoinRoom_CreateFlow(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")

	snap := createTestRoom(t, conn)
	assert.NotEmpty(t, snap.RoomID)
	assert.NotEmpty(t, snap.PlayerID)
	assert.NotEmpty(t, snap.AuthToken)
	assert.Len(t, snap.RoomCode, 6)
	assert.True(t, snap.IsAuthority)
	assert.Equal(t, 1, m.deps.Registry.RoomCount())
}

func TestJoinRoom_JoinByCode(t *testing.T) {
	m := newTestManager(t, nil)
	_, creatorConn := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, creatorConn)

	_, joinerConn := attach(t, m, "10.0.0.2")
	send(t, joinerConn, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		GameName:   "space-race",
		PlayerName: "bob",
		RoomCode:   snap.RoomCode,
	})

	joined := decode[protocol.RoomSnapshot](t, joinerConn.waitForType(t, protocol.TypeRoomJoined))
	assert.Equal(t, snap.RoomID, joined.RoomID)
	assert.Len(t, joined.CurrentPlayers, 2)
	assert.False(t, joined.IsAuthority)

	announced := decode[protocol.PlayerJoinedPayload](t, creatorConn.waitForType(t, protocol.TypePlayerJoined))
	assert.Equal(t, joined.PlayerID, announced.Player.PlayerID)
}

func TestJoinRoom_LowercaseCodeAccepted(t *testing.T) {
	m := newTestManager(t, nil)
	_, creatorConn := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, creatorConn)

	_, joinerConn := attach(t, m, "10.0.0.2")
	send(t, joinerConn, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		GameName:   "space-race",
		PlayerName: "bob",
		RoomCode:   "  " + lower(snap.RoomCode) + " ",
	})
	joinerConn.waitForType(t, protocol.TypeRoomJoined)
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func TestJoinRoom_UnknownCode(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		GameName:   "space-race",
		PlayerName: "bob",
		RoomCode:   "ZZZZ22",
	})
	payload := decode[protocol.RoomJoinFailedPayload](t, conn.waitForType(t, protocol.TypeRoomJoinFailed))
	assert.Equal(t, protocol.CodeRoomNotFound, payload.ErrorCode)
}

func TestJoinRoom_AlreadyInRoom(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")
	createTestRoom(t, conn)

	send(t, conn, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		GameName:   "space-race",
		PlayerName: "alice",
	})
	payload := decode[protocol.RoomJoinFailedPayload](t, conn.waitForType(t, protocol.TypeRoomJoinFailed))
	assert.Equal(t, protocol.CodeAlreadyInRoom, payload.ErrorCode)
}

func TestJoinRoom_InvalidGameName(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		GameName:   "   ",
		PlayerName: "alice",
	})
	payload := decode[protocol.RoomJoinFailedPayload](t, conn.waitForType(t, protocol.TypeRoomJoinFailed))
	assert.Equal(t, protocol.CodeInvalidGameName, payload.ErrorCode)
}

func TestLeaveRoom(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, conn)

	send(t, conn, protocol.TypeLeaveRoom, nil)
	conn.waitForType(t, protocol.TypeRoomLeft)

	r, ok := m.deps.Registry.Lookup(types.RoomID(snap.RoomID))
	require.True(t, ok)
	assert.Equal(t, 0, r.MemberCount())
}

func TestLeaveRoom_NotInRoom(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypeLeaveRoom, nil)
	payload := decode[protocol.ErrorPayload](t, conn.waitForType(t, protocol.TypeError))
	assert.Equal(t, protocol.CodeNotInRoom, payload.ErrorCode)
}

func TestGameData_RelayedBetweenSessions(t *testing.T) {
	m := newTestManager(t, nil)
	_, c1 := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, c1)

	_, c2 := attach(t, m, "10.0.0.2")
	send(t, c2, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		GameName:   "space-race",
		PlayerName: "bob",
		RoomCode:   snap.RoomCode,
	})
	joined := decode[protocol.RoomSnapshot](t, c2.waitForType(t, protocol.TypeRoomJoined))

	send(t, c2, protocol.TypeGameData, protocol.GameDataPayload{Data: []byte(`{"move":"e4"}`)})

	relayed := decode[protocol.GameDataRelayPayload](t, c1.waitForType(t, protocol.TypeGameData))
	assert.Equal(t, joined.PlayerID, relayed.FromPlayer)
	assert.JSONEq(t, `{"move":"e4"}`, string(relayed.Data))
}

func TestDisconnect_ParksMember(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, conn)

	conn.Close()

	r, ok := m.deps.Registry.Lookup(types.RoomID(snap.RoomID))
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return r.HasPendingReconnect(types.PlayerID(snap.PlayerID))
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, r.MemberCount())
	assert.Equal(t, 1, m.deps.Reconnect.Len())
}

func TestDisconnect_LeavesWhenReconnectionDisabled(t *testing.T) {
	m := newTestManager(t, func(cfg *config.Config) {
		cfg.Server.EnableReconnection = false
	})
	_, conn := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, conn)

	conn.Close()

	r, ok := m.deps.Registry.Lookup(types.RoomID(snap.RoomID))
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return r.MemberCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.deps.Reconnect.Len())
}

func TestReconnect_FullFlow(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, conn)

	conn.Close()
	r, ok := m.deps.Registry.Lookup(types.RoomID(snap.RoomID))
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return r.HasPendingReconnect(types.PlayerID(snap.PlayerID))
	}, 2*time.Second, 5*time.Millisecond)

	_, conn2 := attach(t, m, "10.0.0.1")
	send(t, conn2, protocol.TypeReconnect, protocol.ReconnectPayload{
		PlayerID:  snap.PlayerID,
		RoomID:    snap.RoomID,
		AuthToken: snap.AuthToken,
	})

	env := conn2.waitForType(t, protocol.TypeReconnected)
	payload := decode[protocol.ReconnectedPayload](t, env)
	assert.Equal(t, snap.PlayerID, payload.PlayerID)
	assert.NotEmpty(t, payload.AuthToken)
	assert.NotEqual(t, snap.AuthToken, payload.AuthToken)
	assert.NotNil(t, payload.MissedEvents)

	assert.False(t, r.HasPendingReconnect(types.PlayerID(snap.PlayerID)))
	assert.Equal(t, 0, m.deps.Reconnect.Len())
}

func TestReconnect_InvalidToken(t *testing.T) {
	m := newTestManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, conn)

	conn.Close()
	r, _ := m.deps.Registry.Lookup(types.RoomID(snap.RoomID))
	require.Eventually(t, func() bool {
		return r.HasPendingReconnect(types.PlayerID(snap.PlayerID))
	}, 2*time.Second, 5*time.Millisecond)

	_, conn2 := attach(t, m, "10.0.0.1")
	send(t, conn2, protocol.TypeReconnect, protocol.ReconnectPayload{
		PlayerID:  snap.PlayerID,
		RoomID:    snap.RoomID,
		AuthToken: "forged",
	})
	payload := decode[protocol.ReconnectionFailedPayload](t, conn2.waitForType(t, protocol.TypeReconnectionFailed))
	assert.Equal(t, protocol.CodeReconnectionTokenInvalid, payload.ErrorCode)
}

func TestSpectator_JoinAndReceive(t *testing.T) {
	m := newTestManager(t, nil)
	_, c1 := attach(t, m, "10.0.0.1")
	snap := createTestRoom(t, c1)

	_, spec := attach(t, m, "10.0.0.2")
	send(t, spec, protocol.TypeJoinAsSpectator, protocol.JoinAsSpectatorPayload{
		GameName:      "space-race",
		RoomCode:      snap.RoomCode,
		SpectatorName: "watcher",
	})
	ack := decode[protocol.SpectatorJoinedPayload](t, spec.waitForType(t, protocol.TypeSpectatorJoined))
	assert.Equal(t, snap.RoomID, ack.RoomID)

	c1.waitForType(t, protocol.TypeNewSpectatorJoined)

	send(t, spec, protocol.TypeLeaveSpectator, nil)
	c1.waitForType(t, protocol.TypeSpectatorLeft)
}
