// Package reconnect implements the reconnection token store: single-use
// opaque tokens bound to a (playerId, roomId) pair with a wall-clock
// expiration, issued at disconnect and consumed on successful reconnect.
package reconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// Token is an issued reconnection credential. LastEventSeq is the room event
// sequence captured at the moment of disconnect; replay starts strictly
// after it.
type Token struct {
	Value        string
	PlayerID     types.PlayerID
	RoomID       types.RoomID
	IssuedAt     time.Time
	ExpiresAt    time.Time
	WasAuthority bool
	LastEventSeq uint64
}

type tokenKey struct {
	playerID types.PlayerID
	roomID   types.RoomID
}

// Store holds outstanding tokens. At most one token exists per
// (playerId, roomId): re-issuing replaces the previous one.
type Store struct {
	mu     sync.Mutex
	tokens map[tokenKey]Token
	window time.Duration
	now    func() time.Time
}

// NewStore creates a Store issuing tokens valid for window.
func NewStore(window time.Duration) *Store {
	return &Store{
		tokens: make(map[tokenKey]Token),
		window: window,
		now:    time.Now,
	}
}

// Issue creates a fresh single-use token for the player in the room. value
// is the secret the session pre-announced to the client at join time; an
// empty value gets a generated one.
func (s *Store) Issue(playerID types.PlayerID, roomID types.RoomID, value string, wasAuthority bool, lastEventSeq uint64) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == "" {
		value = uuid.NewString()
	}
	now := s.now()
	tok := Token{
		Value:        value,
		PlayerID:     playerID,
		RoomID:       roomID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.window),
		WasAuthority: wasAuthority,
		LastEventSeq: lastEventSeq,
	}
	s.tokens[tokenKey{playerID, roomID}] = tok
	metrics.PendingReconnects.Set(float64(len(s.tokens)))

	logging.Info(context.Background(), "Issued reconnection token",
		zap.String("playerId", string(playerID)),
		zap.String("roomId", string(roomID)),
		zap.Time("expiresAt", tok.ExpiresAt))
	return tok
}

// Consume validates and removes the token matching the full
// (playerId, roomId, value) triple. An expired entry is removed on the spot
// and reported as ErrTokenExpired.
func (s *Store) Consume(playerID types.PlayerID, roomID types.RoomID, value string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{playerID, roomID}
	tok, ok := s.tokens[key]
	if !ok || tok.Value != value {
		return Token{}, fmt.Errorf("%w: no match for player %s in room %s", protocol.ErrTokenInvalid, playerID, roomID)
	}
	if s.now().After(tok.ExpiresAt) {
		delete(s.tokens, key)
		metrics.PendingReconnects.Set(float64(len(s.tokens)))
		return Token{}, fmt.Errorf("%w: expired at %s", protocol.ErrTokenExpired, tok.ExpiresAt.Format(time.RFC3339))
	}

	delete(s.tokens, key)
	metrics.PendingReconnects.Set(float64(len(s.tokens)))
	return tok, nil
}

// SweepExpired removes and returns every token past its expiration. The
// caller applies the member evictions that follow.
func (s *Store) SweepExpired() []Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []Token
	for key, tok := range s.tokens {
		if now.After(tok.ExpiresAt) {
			expired = append(expired, tok)
			delete(s.tokens, key)
		}
	}
	if len(expired) > 0 {
		metrics.PendingReconnects.Set(float64(len(s.tokens)))
	}
	return expired
}

// DropRoom discards all tokens for a destroyed room.
func (s *Store) DropRoom(roomID types.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.tokens {
		if key.roomID == roomID {
			delete(s.tokens, key)
		}
	}
	metrics.PendingReconnects.Set(float64(len(s.tokens)))
}

// Len reports the number of outstanding tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// SetNowFunc overrides the clock, for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
