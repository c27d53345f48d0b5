// Package types holds the identifier types and the small interfaces shared
// across packages. Keeping them here breaks the dependency cycle between the
// session layer (connections) and the room layer (state): rooms talk to
// sessions only through the Sender interface.
package types

import (
	"github.com/google/uuid"

	"github.com/meshplay/signaling/internal/v1/protocol"
)

// --- Core identifier types ---

// PlayerID identifies a room member. Stable for the lifetime of the player,
// including across reconnects.
type PlayerID string

// RoomID identifies a room independently of its human-shareable code.
type RoomID string

// SessionID identifies one WebSocket connection.
type SessionID string

// SpectatorID identifies an observer.
type SpectatorID string

// GameName scopes room codes: two different games may share a code.
type GameName string

// RoomCode is the short, human-shareable room identifier.
type RoomCode string

// RelayType tags a room with how peers are expected to connect. Opaque to
// the signaling core.
type RelayType string

// DefaultRelayType is applied when a room creator does not specify one.
const DefaultRelayType RelayType = "webrtc"

// NewPlayerID allocates a fresh player identifier.
func NewPlayerID() PlayerID { return PlayerID(uuid.NewString()) }

// NewRoomID allocates a fresh room identifier.
func NewRoomID() RoomID { return RoomID(uuid.NewString()) }

// NewSessionID allocates a fresh session identifier.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// NewSpectatorID allocates a fresh spectator identifier.
func NewSpectatorID() SpectatorID { return SpectatorID(uuid.NewString()) }

// --- Lobby state machine ---

// LobbyState is the room's ready-up state.
type LobbyState string

const (
	LobbyStateWaiting   LobbyState = protocol.LobbyStateWaiting
	LobbyStateLobby     LobbyState = protocol.LobbyStateLobby
	LobbyStateFinalized LobbyState = protocol.LobbyStateFinalized
)

// --- Session close reasons ---

// CloseReason explains why a session was terminated. SlowConsumer and
// IdleTimeout are internal reasons; they never surface as wire Error messages.
type CloseReason string

const (
	CloseReasonNormal          CloseReason = "Normal"
	CloseReasonSlowConsumer    CloseReason = "SlowConsumer"
	CloseReasonAuthTimeout     CloseReason = "AuthenticationTimeout"
	CloseReasonAuthFailed      CloseReason = "AuthenticationFailed"
	CloseReasonIdleTimeout     CloseReason = "IdleTimeout"
	CloseReasonProtocol        CloseReason = "ProtocolViolation"
	CloseReasonServerShutdown  CloseReason = "ServerShutdown"
	CloseReasonTransportError  CloseReason = "TransportError"
	CloseReasonDisplaced       CloseReason = "Displaced"
	CloseReasonConnectionLimit CloseReason = "ConnectionLimitExceeded"
)

// --- Shared interfaces ---

// Sender is the room layer's view of a connected session. Enqueue must never
// block: it reports false when the outbound queue is full, and the caller
// applies the slow-consumer policy.
type Sender interface {
	SessionID() SessionID
	Enqueue(env protocol.Envelope) bool
	Close(reason CloseReason)
}
