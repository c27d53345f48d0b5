package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// audience selects the recipients of a room broadcast.
type audience int

const (
	audienceAllMembers audience = iota
	audienceAllExcept
	audienceSpectators
	audienceEveryone
)

// broadcastLocked appends env to the event log and enqueues it to every
// selected recipient. Caller must hold r.mu.
//
// The append and all enqueues happen under the room lock, which is what
// makes delivery order total: any two observers see the same prefix of the
// room's event sequence. A recipient whose queue is full is closed as a
// slow consumer; the event stays in the log so reconnection replay covers
// the gap.
func (r *Room) broadcastLocked(env protocol.Envelope, aud audience, except types.PlayerID) {
	seq := r.log.Append(env, r.now())
	env.Seq = seq

	fanout := 0

	if aud != audienceSpectators {
		for _, p := range r.members {
			if p.session == nil {
				continue
			}
			if aud == audienceAllExcept && p.ID == except {
				continue
			}
			fanout++
			if !p.session.Enqueue(env) {
				r.evictSlowConsumerLocked(p)
			}
		}
	}

	if aud == audienceSpectators || aud == audienceEveryone {
		for _, s := range r.spectators {
			fanout++
			if !s.session.Enqueue(env) {
				logging.Warn(context.Background(), "Spectator outbound queue full, closing",
					zap.String("roomId", string(r.id)),
					zap.String("spectatorId", string(s.ID)))
				metrics.SlowConsumerCloses.Inc()
				s.session.Close(types.CloseReasonSlowConsumer)
			}
		}
	}

	metrics.BroadcastFanout.Observe(float64(fanout))
}

func (r *Room) evictSlowConsumerLocked(p *Player) {
	logging.Warn(context.Background(), "Member outbound queue full, closing slow consumer",
		zap.String("roomId", string(r.id)),
		zap.String("playerId", string(p.ID)))
	metrics.SlowConsumerCloses.Inc()
	// Close is asynchronous: the session's disconnect path runs the usual
	// park-or-leave logic without re-entering this lock.
	p.session.Close(types.CloseReasonSlowConsumer)
}

// sendToLocked enqueues a non-event envelope (no sequence number) directly
// to one member. Caller must hold r.mu.
func (r *Room) sendToLocked(p *Player, env protocol.Envelope) {
	if p.session == nil {
		return
	}
	if !p.session.Enqueue(env) {
		r.evictSlowConsumerLocked(p)
	}
}
