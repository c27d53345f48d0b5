// Package room implements the room state machinery: membership, the lobby
// ready-up state machine, authority assignment, spectators, and ordered
// broadcast with the slow-consumer policy.
//
// Every mutation goes through the per-room mutex, including event-log append
// and outbound enqueue. The room lock is never held across network I/O; the
// lock order is always registry -> room -> session queue.
package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/meshplay/signaling/internal/v1/eventlog"
	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// Player is a room member. Session is nil while the member is parked
// awaiting reconnection; the member still counts against maxPlayers.
type Player struct {
	ID             types.PlayerID
	Name           string
	JoinedAt       time.Time
	Ready          bool
	Authority      bool
	ConnectionInfo json.RawMessage
	session        types.Sender
}

// Connected reports whether the player has a live session.
func (p *Player) Connected() bool {
	return p.session != nil
}

// Spectator is an observer. Not counted against maxPlayers, never ready,
// never authority.
type Spectator struct {
	ID       types.SpectatorID
	Name     string
	JoinedAt time.Time
	session  types.Sender
}

// Settings carries the per-room knobs fixed at creation time.
type Settings struct {
	MaxPlayers        int
	SupportsAuthority bool
	RelayType         types.RelayType
	EventBufferSize   int
	LobbyCountdown    time.Duration
	AppID             string
}

// Room holds all state for one game room. Created by the registry, destroyed
// by the maintenance sweep or graceful shutdown.
type Room struct {
	id       types.RoomID
	code     types.RoomCode
	gameName types.GameName
	settings Settings

	mu                sync.Mutex
	members           []*Player // join order preserved; index 0 is longest-joined
	spectators        map[types.SpectatorID]*Spectator
	lobbyState        types.LobbyState
	authorityID       types.PlayerID // empty when no authority
	pendingReconnects set.Set[types.PlayerID]
	log               *eventlog.Log
	countdown         *time.Timer
	createdAt         time.Time
	lastActivityAt    time.Time
	emptySince        time.Time // zero while occupied
	closed            bool

	now            func() time.Time
	timerAfterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates an empty room. The first member is added separately so the
// registry can treat creator insertion like any other join.
func New(id types.RoomID, code types.RoomCode, gameName types.GameName, settings Settings) *Room {
	if settings.RelayType == "" {
		settings.RelayType = types.DefaultRelayType
	}
	now := time.Now()
	return &Room{
		id:                id,
		code:              code,
		gameName:          gameName,
		settings:          settings,
		spectators:        make(map[types.SpectatorID]*Spectator),
		lobbyState:        types.LobbyStateWaiting,
		pendingReconnects: set.New[types.PlayerID](),
		log:               eventlog.New(settings.EventBufferSize),
		createdAt:         now,
		lastActivityAt:    now,
		emptySince:        now,
		now:               time.Now,
		timerAfterFunc:    time.AfterFunc,
	}
}

// --- Accessors ---

func (r *Room) ID() types.RoomID          { return r.id }
func (r *Room) Code() types.RoomCode      { return r.code }
func (r *Room) GameName() types.GameName  { return r.gameName }
func (r *Room) AppID() string             { return r.settings.AppID }
func (r *Room) RelayType() types.RelayType { return r.settings.RelayType }

// MemberCount includes parked members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// LobbyState returns the current lobby state.
func (r *Room) LobbyState() types.LobbyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lobbyState
}

// AuthorityID returns the current authority, or "" when none.
func (r *Room) AuthorityID() types.PlayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorityID
}

// LastActivityAt returns the time of the last inbound activity.
func (r *Room) LastActivityAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivityAt
}

// EmptySince returns the time the room last became empty, or the zero time
// while it has members.
func (r *Room) EmptySince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emptySince
}

// Touch stamps inbound activity on the room.
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivityAt = r.now()
}

// SetNowFunc overrides the clock, for tests.
func (r *Room) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// --- Membership ---

func (r *Room) findMemberLocked(id types.PlayerID) (int, *Player) {
	for i, p := range r.members {
		if p.ID == id {
			return i, p
		}
	}
	return -1, nil
}

// AddMember appends a new member and broadcasts PlayerJoined to the others.
// The first member of a room that supports authority becomes the initial
// authority.
//
// When ackType is non-empty the joiner's acknowledgement (RoomCreated or
// RoomJoined, carrying the room snapshot and the reconnection secret) is
// enqueued inside the same critical section, so it precedes every event the
// new member can observe.
func (r *Room) AddMember(id types.PlayerID, name string, sender types.Sender, ackType, authToken string) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, protocol.ErrRoomNotFound
	}
	if len(r.members) >= r.settings.MaxPlayers {
		return nil, protocol.ErrRoomFull
	}

	p := &Player{
		ID:       id,
		Name:     name,
		JoinedAt: r.now(),
		session:  sender,
	}
	r.members = append(r.members, p)
	r.emptySince = time.Time{}
	r.lastActivityAt = r.now()
	metrics.RoomMembers.WithLabelValues(string(r.gameName)).Inc()

	if r.settings.SupportsAuthority && r.authorityID == "" {
		p.Authority = true
		r.authorityID = p.ID
	}

	if ackType != "" {
		snap := r.snapshotLocked(id)
		snap.AuthToken = authToken
		if ack, err := protocol.NewEnvelope(ackType, snap); err == nil {
			r.sendToLocked(p, ack)
		}
	}

	if len(r.members) > 1 {
		env, err := protocol.NewEnvelope(protocol.TypePlayerJoined, protocol.PlayerJoinedPayload{
			Player: playerInfo(p),
		})
		if err == nil {
			r.broadcastLocked(env, audienceAllExcept, p.ID)
		}
	}

	// A join can only regress the lobby (the newcomer is not ready).
	r.recomputeLobbyLocked()

	return p, nil
}

// RemoveMember removes a member, reassigns authority, recomputes the lobby
// state, and broadcasts PlayerLeft when announce is set. Returns
// ErrNotInRoom for unknown players.
func (r *Room) RemoveMember(id types.PlayerID, announce bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeMemberLocked(id, announce)
}

func (r *Room) removeMemberLocked(id types.PlayerID, announce bool) error {
	i, p := r.findMemberLocked(id)
	if p == nil {
		return protocol.ErrNotInRoom
	}

	r.members = append(r.members[:i], r.members[i+1:]...)
	r.pendingReconnects.Delete(id)
	metrics.RoomMembers.WithLabelValues(string(r.gameName)).Dec()

	if announce {
		env, err := protocol.NewEnvelope(protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
			PlayerID: string(id),
		})
		if err == nil {
			r.broadcastLocked(env, audienceEveryone, "")
		}
	}

	if p.Authority {
		p.Authority = false
		r.authorityID = ""
		r.promoteAuthorityLocked()
	}

	if len(r.members) == 0 {
		r.emptySince = r.now()
		// Terminal state resets when the last member leaves.
		if r.lobbyState == types.LobbyStateFinalized {
			r.lobbyState = types.LobbyStateWaiting
		}
	}
	r.recomputeLobbyLocked()

	if r.pendingReconnects.Len() == 0 {
		r.log.Clear()
	}

	return nil
}

// --- Parking and reconnection ---

// Park detaches the session from a member on disconnect, keeping the
// membership alive pending reconnection. Returns the player's authority flag
// and the current event sequence for the reconnection token.
func (r *Room) Park(id types.PlayerID) (wasAuthority bool, lastEventSeq uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p := r.findMemberLocked(id)
	if p == nil {
		return false, 0, protocol.ErrNotInRoom
	}

	p.session = nil
	r.pendingReconnects.Insert(id)

	env, envErr := protocol.NewEnvelope(protocol.TypePlayerDisconnected, protocol.PlayerDisconnectedPayload{
		PlayerID: string(id),
	})
	if envErr == nil {
		r.broadcastLocked(env, audienceEveryone, "")
	}

	return p.Authority, r.log.LastSeq(), nil
}

// Resume reattaches a session to a parked member. The Reconnected reply
// (snapshot plus missed events) is enqueued and PlayerReconnected is
// broadcast inside the same critical section, so replayed events are
// strictly ordered before anything the member observes afterwards.
// authToken is the fresh reconnection secret for the new session.
func (r *Room) Resume(id types.PlayerID, sender types.Sender, wasAuthority bool, afterSeq uint64, authToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p := r.findMemberLocked(id)
	if p == nil {
		return protocol.ErrNotInRoom
	}
	if p.session != nil {
		return protocol.ErrAlreadyConnected
	}

	p.session = sender
	r.pendingReconnects.Delete(id)
	r.lastActivityAt = r.now()

	// Restore authority only while it is still consistent: nobody else took
	// it and the room still supports the role.
	if wasAuthority && r.settings.SupportsAuthority && r.authorityID == "" {
		p.Authority = true
		r.authorityID = p.ID
	}

	missed := r.log.After(afterSeq)
	snapshot := r.snapshotLocked(id)
	snapshot.AuthToken = authToken
	if missed == nil {
		missed = []protocol.Envelope{}
	}
	reply, err := protocol.NewEnvelope(protocol.TypeReconnected, protocol.ReconnectedPayload{
		RoomSnapshot: snapshot,
		MissedEvents: missed,
	})
	if err != nil {
		return err
	}
	r.sendToLocked(p, reply)

	env, err := protocol.NewEnvelope(protocol.TypePlayerReconnected, protocol.PlayerReconnectedPayload{
		PlayerID: string(id),
	})
	if err == nil {
		r.broadcastLocked(env, audienceAllExcept, id)
	}

	if r.pendingReconnects.Len() == 0 {
		r.log.Clear()
	}

	return nil
}

// RemoveParked evicts a member whose reconnection window expired, as if by
// LeaveRoom. PlayerLeft is broadcast to the remaining audience.
func (r *Room) RemoveParked(id types.PlayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pendingReconnects.Has(id) {
		return protocol.ErrNotInRoom
	}
	return r.removeMemberLocked(id, true)
}

// HasPendingReconnect reports whether the member is parked.
func (r *Room) HasPendingReconnect(id types.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingReconnects.Has(id)
}

// --- Game data and connection info ---

// RelayGameData broadcasts opaque game data from a member to every other
// member. The sender identity is substituted server-side.
func (r *Room) RelayGameData(from types.PlayerID, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p := r.findMemberLocked(from)
	if p == nil {
		return protocol.ErrNotInRoom
	}
	r.lastActivityAt = r.now()

	env, err := protocol.NewEnvelope(protocol.TypeGameData, protocol.GameDataRelayPayload{
		FromPlayer: string(from),
		Data:       data,
	})
	if err != nil {
		return err
	}
	r.broadcastLocked(env, audienceAllExcept, from)
	return nil
}

// SetConnectionInfo stores a member's opaque peer-connection details for the
// GameStarting roster.
func (r *Room) SetConnectionInfo(id types.PlayerID, info json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p := r.findMemberLocked(id)
	if p == nil {
		return protocol.ErrNotInRoom
	}
	p.ConnectionInfo = info
	return nil
}

// --- Snapshots ---

func playerInfo(p *Player) protocol.PlayerInfo {
	return protocol.PlayerInfo{
		PlayerID:    string(p.ID),
		PlayerName:  p.Name,
		IsReady:     p.Ready,
		IsAuthority: p.Authority,
	}
}

func (r *Room) snapshotLocked(forPlayer types.PlayerID) protocol.RoomSnapshot {
	players := make([]protocol.PlayerInfo, 0, len(r.members))
	ready := make([]string, 0, len(r.members))
	isAuthority := false
	for _, p := range r.members {
		players = append(players, playerInfo(p))
		if p.Ready {
			ready = append(ready, string(p.ID))
		}
		if p.ID == forPlayer && p.Authority {
			isAuthority = true
		}
	}
	spectators := make([]protocol.SpectatorInfo, 0, len(r.spectators))
	for _, s := range r.spectators {
		spectators = append(spectators, protocol.SpectatorInfo{
			SpectatorID:   string(s.ID),
			SpectatorName: s.Name,
		})
	}

	return protocol.RoomSnapshot{
		RoomID:            string(r.id),
		RoomCode:          string(r.code),
		PlayerID:          string(forPlayer),
		GameName:          string(r.gameName),
		MaxPlayers:        r.settings.MaxPlayers,
		SupportsAuthority: r.settings.SupportsAuthority,
		CurrentPlayers:    players,
		IsAuthority:       isAuthority,
		LobbyState:        string(r.lobbyState),
		ReadyPlayers:      ready,
		RelayType:         string(r.settings.RelayType),
		CurrentSpectators: spectators,
	}
}

// Snapshot builds the room view delivered on RoomCreated/RoomJoined.
func (r *Room) Snapshot(forPlayer types.PlayerID) protocol.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(forPlayer)
}

// --- Destruction ---

// Close notifies all live members and spectators with RoomClosed, closes
// their sessions, and marks the room dead. Idempotent.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.stopCountdownLocked()

	logging.Info(context.Background(), "Closing room",
		zap.String("roomId", string(r.id)),
		zap.String("reason", reason))

	env, err := protocol.NewEnvelope(protocol.TypeRoomClosed, protocol.RoomClosedPayload{Reason: reason})
	if err == nil {
		for _, p := range r.members {
			if p.session != nil {
				p.session.Enqueue(env)
			}
		}
		for _, s := range r.spectators {
			s.session.Enqueue(env)
		}
	}
	for _, p := range r.members {
		if p.session != nil {
			p.session.Close(types.CloseReasonNormal)
		}
	}
	for _, s := range r.spectators {
		s.session.Close(types.CloseReasonNormal)
	}

	metrics.RoomMembers.WithLabelValues(string(r.gameName)).Sub(float64(len(r.members)))
	r.members = nil
	r.spectators = map[types.SpectatorID]*Spectator{}
	r.pendingReconnects = set.New[types.PlayerID]()
	r.log.Clear()
}

// Closed reports whether the room has been destroyed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
