package protocol

import "errors"

// Stable wire error codes. Clients match on these strings; changing one is a
// breaking protocol change.
const (
	CodeAuthenticationRequired    = "AuthenticationRequired"
	CodeInvalidAppID              = "InvalidAppId"
	CodeAuthenticationTimeout     = "AuthenticationTimeout"
	CodeRoomFull                  = "RoomFull"
	CodeRoomNotFound              = "RoomNotFound"
	CodeAlreadyInRoom             = "AlreadyInRoom"
	CodeNotInRoom                 = "NotInRoom"
	CodeInvalidGameName           = "InvalidGameName"
	CodeInvalidPlayerName         = "InvalidPlayerName"
	CodeInvalidMessage            = "InvalidMessage"
	CodeMaxRoomsPerGameExceeded   = "MaxRoomsPerGameExceeded"
	CodeMaxPlayersPerRoomExceeded = "MaxPlayersPerRoomExceeded"
	CodeRateLimitExceeded         = "RateLimitExceeded"
	CodeConnectionLimitExceeded   = "ConnectionLimitExceeded"
	CodeReconnectionFailed        = "ReconnectionFailed"
	CodeReconnectionExpired       = "ReconnectionExpired"
	CodeReconnectionTokenInvalid  = "ReconnectionTokenInvalid"
	CodeCodeAllocationExhausted   = "CodeAllocationExhausted"
	CodeAuthorityNotSupported     = "AuthorityNotSupported"
	CodeAlreadyConnected          = "AlreadyConnected"
	CodeProtocolViolation         = "ProtocolViolation"
)

// Sentinel errors returned by registry, room and reconnect operations.
// ErrorCode maps them back to wire codes at the handler boundary.
var (
	ErrRoomFull                = errors.New("room is full")
	ErrRoomNotFound            = errors.New("room not found")
	ErrAlreadyInRoom           = errors.New("player is already in a room")
	ErrNotInRoom               = errors.New("player is not in a room")
	ErrInvalidGameName         = errors.New("invalid game name")
	ErrInvalidPlayerName       = errors.New("invalid player name")
	ErrInvalidAppID            = errors.New("unknown app id")
	ErrMaxRoomsPerGame         = errors.New("room limit reached for game")
	ErrMaxPlayersPerRoom       = errors.New("requested maxPlayers exceeds limit")
	ErrCodeAllocationExhausted = errors.New("room code allocation exhausted")
	ErrTokenInvalid            = errors.New("reconnection token invalid")
	ErrTokenExpired            = errors.New("reconnection token expired")
	ErrAlreadyConnected        = errors.New("player already has a live session")
	ErrConnectionLimit         = errors.New("connection limit reached for address")
)

// ErrorCode resolves a domain error to its wire code. Unknown errors map to
// InvalidMessage so a client always receives a typed failure.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, ErrAlreadyInRoom):
		return CodeAlreadyInRoom
	case errors.Is(err, ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, ErrInvalidGameName):
		return CodeInvalidGameName
	case errors.Is(err, ErrInvalidPlayerName):
		return CodeInvalidPlayerName
	case errors.Is(err, ErrInvalidAppID):
		return CodeInvalidAppID
	case errors.Is(err, ErrMaxRoomsPerGame):
		return CodeMaxRoomsPerGameExceeded
	case errors.Is(err, ErrMaxPlayersPerRoom):
		return CodeMaxPlayersPerRoomExceeded
	case errors.Is(err, ErrCodeAllocationExhausted):
		return CodeCodeAllocationExhausted
	case errors.Is(err, ErrTokenExpired):
		return CodeReconnectionExpired
	case errors.Is(err, ErrTokenInvalid):
		return CodeReconnectionTokenInvalid
	case errors.Is(err, ErrAlreadyConnected):
		return CodeAlreadyConnected
	case errors.Is(err, ErrConnectionLimit):
		return CodeConnectionLimitExceeded
	default:
		return CodeInvalidMessage
	}
}
