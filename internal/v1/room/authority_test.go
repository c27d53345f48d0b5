package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

func TestRequestAuthority_GrantWhenVacant(t *testing.T) {
	r := testRoom(Settings{SupportsAuthority: true})
	join(t, r, "p1", newMockSender("s1"))
	join(t, r, "p2", newMockSender("s2"))

	// p1 releases, p2 takes over.
	res, err := r.RequestAuthority("p1", false)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, types.PlayerID(""), r.AuthorityID())

	res, err = r.RequestAuthority("p2", true)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, types.PlayerID("p2"), r.AuthorityID())
}

func TestRequestAuthority_DeniedWhileHeld(t *testing.T) {
	r := testRoom(Settings{SupportsAuthority: true})
	join(t, r, "p1", newMockSender("s1"))
	join(t, r, "p2", newMockSender("s2"))

	res, err := r.RequestAuthority("p2", true)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.NotEmpty(t, res.Reason)
	assert.Empty(t, res.ErrorCode)
	assert.Equal(t, types.PlayerID("p1"), r.AuthorityID())
}

func TestRequestAuthority_NoOpSuccesses(t *testing.T) {
	r := testRoom(Settings{SupportsAuthority: true})
	join(t, r, "p1", newMockSender("s1"))
	join(t, r, "p2", newMockSender("s2"))

	// Holder asking again.
	res, err := r.RequestAuthority("p1", true)
	require.NoError(t, err)
	assert.True(t, res.Granted)

	// Non-holder releasing.
	res, err = r.RequestAuthority("p2", false)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, types.PlayerID("p1"), r.AuthorityID())
}

func TestRequestAuthority_NotSupported(t *testing.T) {
	r := testRoom(Settings{SupportsAuthority: false})
	join(t, r, "p1", newMockSender("s1"))

	res, err := r.RequestAuthority("p1", true)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, protocol.CodeAuthorityNotSupported, res.ErrorCode)
}

func TestRequestAuthority_NotAMember(t *testing.T) {
	r := testRoom(Settings{SupportsAuthority: true})
	_, err := r.RequestAuthority("ghost", true)
	assert.ErrorIs(t, err, protocol.ErrNotInRoom)
}

func TestAuthorityChanged_PersonalizedForHolderOnly(t *testing.T) {
	r := testRoom(Settings{SupportsAuthority: true})
	s1 := newMockSender("s1")
	s2 := newMockSender("s2")
	s3 := newMockSender("s3")
	join(t, r, "p1", s1)
	join(t, r, "p2", s2)
	join(t, r, "p3", s3)

	_, err := r.RequestAuthority("p1", false)
	require.NoError(t, err)
	_, err = r.RequestAuthority("p2", true)
	require.NoError(t, err)

	holderEnv := s2.lastOfType(t, protocol.TypeAuthorityChanged)
	holder := decodePayload[protocol.AuthorityChangedPayload](t, holderEnv)
	assert.True(t, holder.YouAreAuthority)
	require.NotNil(t, holder.AuthorityPlayer)
	assert.Equal(t, "p2", *holder.AuthorityPlayer)

	otherEnv := s3.lastOfType(t, protocol.TypeAuthorityChanged)
	other := decodePayload[protocol.AuthorityChangedPayload](t, otherEnv)
	assert.False(t, other.YouAreAuthority)

	// Same event, same position in the room's total order.
	assert.Equal(t, otherEnv.Seq, holderEnv.Seq)
}

func TestAuthorityChanged_ReleaseBroadcastsNilHolder(t *testing.T) {
	r := testRoom(Settings{SupportsAuthority: true})
	s1 := newMockSender("s1")
	s2 := newMockSender("s2")
	join(t, r, "p1", s1)
	join(t, r, "p2", s2)

	_, err := r.RequestAuthority("p1", false)
	require.NoError(t, err)

	payload := decodePayload[protocol.AuthorityChangedPayload](t, s2.lastOfType(t, protocol.TypeAuthorityChanged))
	assert.Nil(t, payload.AuthorityPlayer)
	assert.False(t, payload.YouAreAuthority)
}
