package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// AuthorityResult reports the outcome of an authority request.
type AuthorityResult struct {
	Granted   bool
	Reason    string
	ErrorCode string
}

// RequestAuthority handles AuthorityRequest. Granting requires that the room
// supports authority and nobody else holds it. A grant request by the
// current authority is a no-op success; a release by a non-holder is a
// no-op success too.
func (r *Room) RequestAuthority(id types.PlayerID, become bool) (AuthorityResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p := r.findMemberLocked(id)
	if p == nil {
		return AuthorityResult{}, protocol.ErrNotInRoom
	}
	r.lastActivityAt = r.now()

	if !r.settings.SupportsAuthority {
		return AuthorityResult{
			Granted:   false,
			Reason:    "room does not support authority",
			ErrorCode: protocol.CodeAuthorityNotSupported,
		}, nil
	}

	if become {
		if p.Authority {
			return AuthorityResult{Granted: true}, nil
		}
		if r.authorityID != "" {
			return AuthorityResult{
				Granted: false,
				Reason:  "another player holds authority",
			}, nil
		}
		p.Authority = true
		r.authorityID = p.ID
		r.broadcastAuthorityChangedLocked()
		return AuthorityResult{Granted: true}, nil
	}

	if !p.Authority {
		return AuthorityResult{Granted: true}, nil
	}
	p.Authority = false
	r.authorityID = ""
	r.broadcastAuthorityChangedLocked()
	return AuthorityResult{Granted: true}, nil
}

// promoteAuthorityLocked hands authority to the longest-joined remaining
// member after the holder departs. Caller must hold r.mu.
func (r *Room) promoteAuthorityLocked() {
	if !r.settings.SupportsAuthority || len(r.members) == 0 {
		return
	}
	next := r.members[0]
	next.Authority = true
	r.authorityID = next.ID

	logging.Info(context.Background(), "Authority auto-promoted",
		zap.String("roomId", string(r.id)),
		zap.String("playerId", string(next.ID)))

	r.broadcastAuthorityChangedLocked()
}

// broadcastAuthorityChangedLocked emits AuthorityChanged to all members.
// The logged event is canonical (youAreAuthority=false); the holder's copy
// is personalized at enqueue time with the same sequence number, so the
// per-room total order is unaffected.
func (r *Room) broadcastAuthorityChangedLocked() {
	var holder *string
	if r.authorityID != "" {
		s := string(r.authorityID)
		holder = &s
	}

	canonical, err := protocol.NewEnvelope(protocol.TypeAuthorityChanged, protocol.AuthorityChangedPayload{
		AuthorityPlayer: holder,
		YouAreAuthority: false,
	})
	if err != nil {
		logging.Error(context.Background(), "Failed to build AuthorityChanged", zap.Error(err))
		return
	}
	seq := r.log.Append(canonical, r.now())
	canonical.Seq = seq

	personalized, err := protocol.NewEnvelope(protocol.TypeAuthorityChanged, protocol.AuthorityChangedPayload{
		AuthorityPlayer: holder,
		YouAreAuthority: true,
	})
	if err != nil {
		logging.Error(context.Background(), "Failed to build AuthorityChanged", zap.Error(err))
		return
	}
	personalized.Seq = seq

	for _, p := range r.members {
		if p.session == nil {
			continue
		}
		env := canonical
		if p.ID == r.authorityID {
			env = personalized
		}
		if !p.session.Enqueue(env) {
			r.evictSlowConsumerLocked(p)
		}
	}
	for _, s := range r.spectators {
		if !s.session.Enqueue(canonical) {
			s.session.Close(types.CloseReasonSlowConsumer)
		}
	}
}
