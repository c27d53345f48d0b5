package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

func TestIssueAndConsume(t *testing.T) {
	s := NewStore(time.Minute)

	tok := s.Issue("p1", "r1", "secret-1", true, 42)
	assert.Equal(t, "secret-1", tok.Value)
	assert.True(t, tok.WasAuthority)
	assert.Equal(t, uint64(42), tok.LastEventSeq)
	assert.Equal(t, 1, s.Len())

	got, err := s.Consume("p1", "r1", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, tok.Value, got.Value)
	assert.Equal(t, 0, s.Len())
}

func TestIssue_GeneratesValueWhenEmpty(t *testing.T) {
	s := NewStore(time.Minute)
	tok := s.Issue("p1", "r1", "", false, 0)
	assert.NotEmpty(t, tok.Value)
}

func TestConsume_SingleUse(t *testing.T) {
	s := NewStore(time.Minute)
	s.Issue("p1", "r1", "secret", false, 0)

	_, err := s.Consume("p1", "r1", "secret")
	require.NoError(t, err)

	_, err = s.Consume("p1", "r1", "secret")
	assert.ErrorIs(t, err, protocol.ErrTokenInvalid)
}

func TestConsume_TripleMustMatch(t *testing.T) {
	s := NewStore(time.Minute)
	s.Issue("p1", "r1", "secret", false, 0)

	_, err := s.Consume("p1", "r1", "wrong")
	assert.ErrorIs(t, err, protocol.ErrTokenInvalid)

	_, err = s.Consume("p2", "r1", "secret")
	assert.ErrorIs(t, err, protocol.ErrTokenInvalid)

	_, err = s.Consume("p1", "r2", "secret")
	assert.ErrorIs(t, err, protocol.ErrTokenInvalid)

	// The failed attempts must not burn the token.
	_, err = s.Consume("p1", "r1", "secret")
	assert.NoError(t, err)
}

func TestConsume_Expired(t *testing.T) {
	s := NewStore(time.Minute)
	now := time.Now()
	s.SetNowFunc(func() time.Time { return now })

	s.Issue("p1", "r1", "secret", false, 0)

	now = now.Add(2 * time.Minute)
	_, err := s.Consume("p1", "r1", "secret")
	assert.ErrorIs(t, err, protocol.ErrTokenExpired)

	// Expired entries are removed on the spot.
	assert.Equal(t, 0, s.Len())
}

func TestReissueReplaces(t *testing.T) {
	s := NewStore(time.Minute)
	s.Issue("p1", "r1", "first", false, 1)
	s.Issue("p1", "r1", "second", false, 2)
	assert.Equal(t, 1, s.Len())

	_, err := s.Consume("p1", "r1", "first")
	assert.ErrorIs(t, err, protocol.ErrTokenInvalid)

	tok, err := s.Consume("p1", "r1", "second")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tok.LastEventSeq)
}

func TestSweepExpired(t *testing.T) {
	s := NewStore(time.Minute)
	now := time.Now()
	s.SetNowFunc(func() time.Time { return now })

	s.Issue("p1", "r1", "a", false, 0)
	s.Issue("p2", "r1", "b", false, 0)

	assert.Empty(t, s.SweepExpired())

	now = now.Add(2 * time.Minute)
	expired := s.SweepExpired()
	assert.Len(t, expired, 2)
	assert.Equal(t, 0, s.Len())
}

func TestDropRoom(t *testing.T) {
	s := NewStore(time.Minute)
	s.Issue("p1", "r1", "a", false, 0)
	s.Issue("p2", "r1", "b", false, 0)
	s.Issue("p3", "r2", "c", false, 0)

	s.DropRoom(types.RoomID("r1"))
	assert.Equal(t, 1, s.Len())

	_, err := s.Consume("p3", "r2", "c")
	assert.NoError(t, err)
}
