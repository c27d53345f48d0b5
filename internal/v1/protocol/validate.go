package protocol

import (
	"fmt"
	"strings"
)

// Limits holds the protocol validation bounds from configuration.
type Limits struct {
	MaxGameNameLength   int
	MaxPlayerNameLength int
	RoomCodeLength      int
	MaxPlayersLimit     int
	DefaultMaxPlayers   int
}

// DefaultLimits mirror the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxGameNameLength:   50,
		MaxPlayerNameLength: 30,
		RoomCodeLength:      6,
		MaxPlayersLimit:     16,
		DefaultMaxPlayers:   8,
	}
}

// ValidateGameName trims and bounds-checks a game name.
func (l Limits) ValidateGameName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > l.MaxGameNameLength {
		return "", fmt.Errorf("%w: length must be 1..%d", ErrInvalidGameName, l.MaxGameNameLength)
	}
	return name, nil
}

// ValidatePlayerName trims and bounds-checks a player or spectator name.
func (l Limits) ValidatePlayerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > l.MaxPlayerNameLength {
		return "", fmt.Errorf("%w: length must be 1..%d", ErrInvalidPlayerName, l.MaxPlayerNameLength)
	}
	return name, nil
}

// NormalizeRoomCode upper-cases a client-supplied room code and verifies its
// length. Content is not checked against the generation alphabet: codes are
// matched by exact lookup, so an impossible code simply fails to resolve.
func (l Limits) NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != l.RoomCodeLength {
		return "", fmt.Errorf("%w: room code must be %d characters", ErrRoomNotFound, l.RoomCodeLength)
	}
	return code, nil
}

// ResolveMaxPlayers applies the default and the hard cap to a requested
// room size. Zero means "use the default".
func (l Limits) ResolveMaxPlayers(requested int) (int, error) {
	if requested == 0 {
		return l.DefaultMaxPlayers, nil
	}
	if requested < 1 || requested > l.MaxPlayersLimit {
		return 0, fmt.Errorf("%w: maxPlayers must be 1..%d", ErrMaxPlayersPerRoom, l.MaxPlayersLimit)
	}
	return requested, nil
}
