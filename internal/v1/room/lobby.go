package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// SetReady marks a member ready and recomputes the lobby state. Readying up
// twice is a no-op; there is no un-ready message in the protocol, but the
// recomputation handles regression when membership changes.
func (r *Room) SetReady(id types.PlayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p := r.findMemberLocked(id)
	if p == nil {
		return protocol.ErrNotInRoom
	}
	r.lastActivityAt = r.now()

	if p.Ready {
		// Idempotent: the state machine recomputes to the same result.
		return nil
	}
	p.Ready = true
	r.recomputeLobbyLocked()
	return nil
}

func (r *Room) allReadyLocked() bool {
	if len(r.members) < 2 {
		return false
	}
	for _, p := range r.members {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) readyIDsLocked() []string {
	ready := make([]string, 0, len(r.members))
	for _, p := range r.members {
		if p.Ready {
			ready = append(ready, string(p.ID))
		}
	}
	return ready
}

// recomputeLobbyLocked re-evaluates the lobby state machine after every
// membership or ready-state change. Caller must hold r.mu.
//
// Waiting -> Lobby   when all members are ready and |members| >= 2.
// Lobby   -> Waiting when that stops holding; the countdown is cancelled.
// Lobby   -> Finalized when the countdown completes (or immediately when the
// countdown is zero, in the same step, Lobby first).
// Finalized never goes back to Lobby; it resets to Waiting only via the last
// member leaving (handled in removeMemberLocked) or explicit close.
func (r *Room) recomputeLobbyLocked() {
	allReady := r.allReadyLocked()

	switch r.lobbyState {
	case types.LobbyStateWaiting:
		if allReady {
			r.enterLobbyLocked()
		}
	case types.LobbyStateLobby:
		if !allReady {
			r.stopCountdownLocked()
			r.lobbyState = types.LobbyStateWaiting
			r.broadcastLobbyStateLocked()
		}
	case types.LobbyStateFinalized:
		// Terminal; reset handled by membership bookkeeping.
	}
}

func (r *Room) enterLobbyLocked() {
	r.lobbyState = types.LobbyStateLobby
	r.broadcastLobbyStateLocked()

	if r.settings.LobbyCountdown <= 0 {
		// Zero countdown: Lobby and Finalized fire in the same logical step,
		// in that order.
		r.finalizeLocked()
		return
	}

	r.countdown = r.timerAfterFunc(r.settings.LobbyCountdown, r.onCountdownFired)
}

// onCountdownFired runs on the countdown timer's goroutine.
func (r *Room) onCountdownFired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.lobbyState != types.LobbyStateLobby || !r.allReadyLocked() {
		return
	}
	r.finalizeLocked()
}

func (r *Room) finalizeLocked() {
	r.lobbyState = types.LobbyStateFinalized
	r.countdown = nil
	r.broadcastLobbyStateLocked()

	peers := make([]protocol.PeerConnection, 0, len(r.members))
	for _, p := range r.members {
		peers = append(peers, protocol.PeerConnection{
			PlayerID:       string(p.ID),
			PlayerName:     p.Name,
			IsAuthority:    p.Authority,
			ConnectionInfo: p.ConnectionInfo,
		})
	}
	env, err := protocol.NewEnvelope(protocol.TypeGameStarting, protocol.GameStartingPayload{
		PeerConnections: peers,
	})
	if err != nil {
		logging.Error(context.Background(), "Failed to build GameStarting", zap.Error(err))
		return
	}
	r.broadcastLocked(env, audienceEveryone, "")

	logging.Info(context.Background(), "Room finalized",
		zap.String("roomId", string(r.id)),
		zap.Int("members", len(r.members)))
}

func (r *Room) broadcastLobbyStateLocked() {
	env, err := protocol.NewEnvelope(protocol.TypeLobbyStateChanged, protocol.LobbyStateChangedPayload{
		LobbyState:   string(r.lobbyState),
		ReadyPlayers: r.readyIDsLocked(),
		AllReady:     r.allReadyLocked(),
	})
	if err != nil {
		logging.Error(context.Background(), "Failed to build LobbyStateChanged", zap.Error(err))
		return
	}
	r.broadcastLocked(env, audienceEveryone, "")
}

func (r *Room) stopCountdownLocked() {
	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}
}
