// Package protocol defines the JSON wire contract between clients and the
// signaling server: the message envelope, every client and server payload,
// the stable error codes, and the validation bounds applied to inbound data.
package protocol

import "encoding/json"

// Client message types.
const (
	TypeAuthenticate          = "Authenticate"
	TypeJoinRoom              = "JoinRoom"
	TypeLeaveRoom             = "LeaveRoom"
	TypeGameData              = "GameData"
	TypePlayerReady           = "PlayerReady"
	TypeAuthorityRequest      = "AuthorityRequest"
	TypeProvideConnectionInfo = "ProvideConnectionInfo"
	TypePing                  = "Ping"
	TypeReconnect             = "Reconnect"
	TypeJoinAsSpectator       = "JoinAsSpectator"
	TypeLeaveSpectator        = "LeaveSpectator"
)

// Server message types. TypeGameData is shared with the client direction.
const (
	TypeAuthenticated         = "Authenticated"
	TypeAuthenticationError   = "AuthenticationError"
	TypeRoomCreated           = "RoomCreated"
	TypeRoomJoined            = "RoomJoined"
	TypeRoomJoinFailed        = "RoomJoinFailed"
	TypeRoomLeft              = "RoomLeft"
	TypeRoomClosed            = "RoomClosed"
	TypePlayerJoined          = "PlayerJoined"
	TypePlayerLeft            = "PlayerLeft"
	TypePlayerDisconnected    = "PlayerDisconnected"
	TypePlayerReconnected     = "PlayerReconnected"
	TypeLobbyStateChanged     = "LobbyStateChanged"
	TypeGameStarting          = "GameStarting"
	TypeAuthorityChanged      = "AuthorityChanged"
	TypeAuthorityResponse     = "AuthorityResponse"
	TypePong                  = "Pong"
	TypeReconnected           = "Reconnected"
	TypeReconnectionFailed    = "ReconnectionFailed"
	TypeSpectatorJoined       = "SpectatorJoined"
	TypeSpectatorLeft         = "SpectatorLeft"
	TypeNewSpectatorJoined    = "NewSpectatorJoined"
	TypeSpectatorDisconnected = "SpectatorDisconnected"
	TypeSpectatorJoinFailed   = "SpectatorJoinFailed"
	TypeError                 = "Error"
)

// Lobby states as they appear on the wire.
const (
	LobbyStateWaiting   = "Waiting"
	LobbyStateLobby     = "Lobby"
	LobbyStateFinalized = "Finalized"
)

// Envelope is the outer shape of every wire message. Seq is set only on room
/// events: it carries the room's monotonically increasing sequence number so
// reconnecting clients can resume replay from the right position.
type Envelope struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a fresh envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Data: data}, nil
}

// --- Client payloads ---

type AuthenticatePayload struct {
	AppID          string `json:"appId"`
	AppSecret      string `json:"appSecret,omitempty"`
	SDKVersion     string `json:"sdkVersion,omitempty"`
	Platform       string `json:"platform,omitempty"`
	GameDataFormat string `json:"gameDataFormat,omitempty"`
}

/// JoinRoomPayload doubles as the create request: a join without a room code
// creates a fresh room with the sender as its first member.
type JoinRoomPayload struct {
	GameName          string `json:"gameName"`
	PlayerName        string `json:"playerName"`
	RoomCode          string `json:"roomCode,omitempty"`
	MaxPlayers        int    `json:"maxPlayers,omitempty"`
	SupportsAuthority *bool  `json:"supportsAuthority,omitempty"`
	RelayTransport    string `json:"relayTransport,omitempty"`
}

type GameDataPayload struct {
	Data json.RawMessage `json:"data"`
}

type AuthorityRequestPayload struct {
	BecomeAuthority bool `json:"becomeAuthority"`
}

type ProvideConnectionInfoPayload struct {
	ConnectionInfo json.RawMessage `json:"connectionInfo"`
}

type ReconnectPayload struct {
	PlayerID  string `json:"playerId"`
	RoomID    string `json:"roomId"`
	AuthToken string `json:"authToken"`
}

type JoinAsSpectatorPayload struct {
	GameName      string `json:"gameName"`
	RoomCode      string `json:"roomCode"`
	SpectatorName string `json:"spectatorName"`
}

// --- Server payloads ---

// PlayerInfo is the wire view of a room member.
type PlayerInfo struct {
	PlayerID    string `json:"playerId"`
	PlayerName  string `json:"playerName"`
	IsReady     bool   `json:"isReady"`
	IsAuthority bool   `json:"isAuthority"`
}

// SpectatorInfo is the wire view of an observer.
type SpectatorInfo struct {
	SpectatorID   string `json:"spectatorId"`
	SpectatorName string `json:"spectatorName"`
}

type RateLimitInfo struct {
	MaxRooms           int `json:"maxRooms"`
	MaxPlayersPerRoom  int `json:"maxPlayersPerRoom"`
	RateLimitPerMinute int `json:"rateLimitPerMinute"`
}

type AuthenticatedPayload struct {
	AppName      string        `json:"appName"`
	Organization string        `json:"organization,omitempty"`
	RateLimits   RateLimitInfo `json:"rateLimits"`
}

type AuthenticationErrorPayload struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// RoomSnapshot is the full room view delivered on RoomCreated, RoomJoined and
// (with missed events attached) Reconnected.
type RoomSnapshot struct {
	RoomID            string          `json:"roomId"`
	RoomCode          string          `json:"roomCode"`
	PlayerID          string          `json:"playerId"`
	GameName          string          `json:"gameName"`
	MaxPlayers        int             `json:"maxPlayers"`
	SupportsAuthority bool            `json:"supportsAuthority"`
	CurrentPlayers    []PlayerInfo    `json:"currentPlayers"`
	IsAuthority       bool            `json:"isAuthority"`
	LobbyState        string          `json:"lobbyState"`
	ReadyPlayers      []string        `json:"readyPlayers"`
	RelayType         string          `json:"relayType"`
	CurrentSpectators []SpectatorInfo `json:"currentSpectators"`
	// AuthToken is the reconnection secret for the receiving player only.
	// Never present in snapshots built for other audiences.
	AuthToken string `json:"authToken,omitempty"`
}

type RoomJoinFailedPayload struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"errorCode,omitempty"`
}

type PlayerJoinedPayload struct {
	Player PlayerInfo `json:"player"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
}

type PlayerDisconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

type PlayerReconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// GameDataRelayPayload is the server-side shape of a relayed GameData message.
// FromPlayer is always substituted by the server, never trusted from clients.
type GameDataRelayPayload struct {
	FromPlayer string          `json:"fromPlayer"`
	Data       json.RawMessage `json:"data"`
}

type LobbyStateChangedPayload struct {
	LobbyState   string   `json:"lobbyState"`
	ReadyPlayers []string `json:"readyPlayers"`
	AllReady     bool     `json:"allReady"`
}

// PeerConnection describes one member in the GameStarting roster.
type PeerConnection struct {
	PlayerID       string          `json:"playerId"`
	PlayerName     string          `json:"playerName"`
	IsAuthority    bool            `json:"isAuthority"`
	ConnectionInfo json.RawMessage `json:"connectionInfo,omitempty"`
}

type GameStartingPayload struct {
	PeerConnections []PeerConnection `json:"peerConnections"`
}

type AuthorityChangedPayload struct {
	AuthorityPlayer *string `json:"authorityPlayer"`
	YouAreAuthority bool    `json:"youAreAuthority"`
}

type AuthorityResponsePayload struct {
	Granted   bool   `json:"granted"`
	Reason    string `json:"reason,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

type ReconnectedPayload struct {
	RoomSnapshot
	MissedEvents []Envelope `json:"missedEvents"`
}

type ReconnectionFailedPayload struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"errorCode"`
}

type RoomClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// SpectatorJoinedPayload acknowledges a spectator's own join with the room view.
type SpectatorJoinedPayload struct {
	SpectatorID       string          `json:"spectatorId"`
	RoomID            string          `json:"roomId"`
	RoomCode          string          `json:"roomCode"`
	GameName          string          `json:"gameName"`
	CurrentPlayers    []PlayerInfo    `json:"currentPlayers"`
	CurrentSpectators []SpectatorInfo `json:"currentSpectators"`
	LobbyState        string          `json:"lobbyState"`
}

type NewSpectatorJoinedPayload struct {
	Spectator SpectatorInfo `json:"spectator"`
}

type SpectatorLeftPayload struct {
	SpectatorID string `json:"spectatorId"`
}

type SpectatorDisconnectedPayload struct {
	SpectatorID string `json:"spectatorId"`
}

type SpectatorJoinFailedPayload struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"errorCode,omitempty"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode,omitempty"`
}
