package room

import (
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// AddSpectator registers an observer. Spectators do not count against
// maxPlayers and cannot ready up or hold authority. The spectator's own
// SpectatorJoined acknowledgement is enqueued before NewSpectatorJoined is
// broadcast, inside the same critical section.
func (r *Room) AddSpectator(id types.SpectatorID, name string, sender types.Sender) (*Spectator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, protocol.ErrRoomNotFound
	}

	s := &Spectator{
		ID:       id,
		Name:     name,
		JoinedAt: r.now(),
		session:  sender,
	}
	r.spectators[id] = s
	r.lastActivityAt = r.now()

	snapshot := r.snapshotLocked("")
	ack, err := protocol.NewEnvelope(protocol.TypeSpectatorJoined, protocol.SpectatorJoinedPayload{
		SpectatorID:       string(id),
		RoomID:            snapshot.RoomID,
		RoomCode:          snapshot.RoomCode,
		GameName:          snapshot.GameName,
		CurrentPlayers:    snapshot.CurrentPlayers,
		CurrentSpectators: snapshot.CurrentSpectators,
		LobbyState:        snapshot.LobbyState,
	})
	if err == nil {
		if !s.session.Enqueue(ack) {
			s.session.Close(types.CloseReasonSlowConsumer)
		}
	}

	env, err := protocol.NewEnvelope(protocol.TypeNewSpectatorJoined, protocol.NewSpectatorJoinedPayload{
		Spectator: protocol.SpectatorInfo{
			SpectatorID:   string(id),
			SpectatorName: name,
		},
	})
	if err == nil {
		r.broadcastLocked(env, audienceEveryone, "")
	}

	return s, nil
}

// RemoveSpectator drops an observer. disconnected selects the notification
// type: SpectatorDisconnected for transport loss, SpectatorLeft for an
// explicit leave.
func (r *Room) RemoveSpectator(id types.SpectatorID, disconnected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.spectators[id]; !ok {
		return protocol.ErrNotInRoom
	}
	delete(r.spectators, id)

	msgType := protocol.TypeSpectatorLeft
	payload := any(protocol.SpectatorLeftPayload{SpectatorID: string(id)})
	if disconnected {
		msgType = protocol.TypeSpectatorDisconnected
		payload = protocol.SpectatorDisconnectedPayload{SpectatorID: string(id)}
	}
	env, err := protocol.NewEnvelope(msgType, payload)
	if err == nil {
		r.broadcastLocked(env, audienceEveryone, "")
	}
	return nil
}

// SpectatorCount reports the current number of observers.
func (r *Room) SpectatorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spectators)
}
