// Package registry owns the authoritative map of live rooms, indexed both by
// RoomId and by (gameName, roomCode). Structural mutations take the registry
// lock; room mutations take the room's own lock afterwards. The lock order
// is always registry first, room second, and no registry operation holds its
// lock while calling into a room.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/room"
	"github.com/meshplay/signaling/internal/v1/types"
)

// maxCodeAttempts bounds the collision retry loop during code allocation.
const maxCodeAttempts = 10

type codeKey struct {
	game types.GameName
	code types.RoomCode
}

// Options carries the registry-level knobs from configuration.
type Options struct {
	MaxRoomsPerGame int
	RoomCodeLength  int
	EventBufferSize int
	LobbyCountdown  time.Duration
}

// Registry is the in-memory room index.
type Registry struct {
	mu      sync.RWMutex
	byID    map[types.RoomID]*room.Room
	byCode  map[codeKey]*room.Room
	perGame map[types.GameName]int
	perApp  map[string]int
	opts    Options
}

// New creates an empty registry.
func New(opts Options) *Registry {
	return &Registry{
		byID:    make(map[types.RoomID]*room.Room),
		byCode:  make(map[codeKey]*room.Room),
		perGame: make(map[types.GameName]int),
		perApp:  make(map[string]int),
		opts:    opts,
	}
}

// CreateParams describes a room creation request with validation already
// applied by the handler.
type CreateParams struct {
	GameName          types.GameName
	MaxPlayers        int
	SupportsAuthority bool
	RelayType         types.RelayType
	AppID             string // empty without authentication
	AppMaxRooms       int    // 0 means unlimited
}

// CreateRoom allocates a code, constructs the room, and inserts the creator
// as its first member. The creator becomes the initial authority when the
// room supports the role. authToken is the creator's reconnection secret,
// delivered in the RoomCreated acknowledgement.
func (g *Registry) CreateRoom(params CreateParams, creatorID types.PlayerID, creatorName string, sender types.Sender, authToken string) (*room.Room, *room.Player, error) {
	g.mu.Lock()

	if g.perGame[params.GameName] >= g.opts.MaxRoomsPerGame {
		g.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: game %q", protocol.ErrMaxRoomsPerGame, params.GameName)
	}
	if params.AppID != "" && params.AppMaxRooms > 0 && g.perApp[params.AppID] >= params.AppMaxRooms {
		g.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: app %q", protocol.ErrMaxRoomsPerGame, params.AppID)
	}

	code, err := g.allocateCodeLocked(params.GameName)
	if err != nil {
		g.mu.Unlock()
		return nil, nil, err
	}

	r := room.New(types.NewRoomID(), code, params.GameName, room.Settings{
		MaxPlayers:        params.MaxPlayers,
		SupportsAuthority: params.SupportsAuthority,
		RelayType:         params.RelayType,
		EventBufferSize:   g.opts.EventBufferSize,
		LobbyCountdown:    g.opts.LobbyCountdown,
		AppID:             params.AppID,
	})
	g.byID[r.ID()] = r
	g.byCode[codeKey{params.GameName, code}] = r
	g.perGame[params.GameName]++
	if params.AppID != "" {
		g.perApp[params.AppID]++
	}
	metrics.ActiveRooms.Inc()
	g.mu.Unlock()

	player, err := r.AddMember(creatorID, creatorName, sender, protocol.TypeRoomCreated, authToken)
	if err != nil {
		// Freshly created rooms cannot be full; treat as internal failure.
		g.Remove(r.ID())
		return nil, nil, err
	}

	logging.Info(context.Background(), "Room created",
		zap.String("roomId", string(r.ID())),
		zap.String("roomCode", string(code)),
		zap.String("game", string(params.GameName)))

	return r, player, nil
}

func (g *Registry) allocateCodeLocked(game types.GameName) (types.RoomCode, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		raw, err := protocol.GenerateRoomCode(g.opts.RoomCodeLength)
		if err != nil {
			return "", fmt.Errorf("generating room code: %w", err)
		}
		code := types.RoomCode(raw)
		if _, taken := g.byCode[codeKey{game, code}]; !taken {
			return code, nil
		}
	}
	return "", protocol.ErrCodeAllocationExhausted
}

// JoinRoom resolves (gameName, code) and appends the player as a member.
// The RoomJoined acknowledgement carries authToken as the player's
// reconnection secret.
func (g *Registry) JoinRoom(game types.GameName, code types.RoomCode, playerID types.PlayerID, name string, sender types.Sender, authToken string) (*room.Room, *room.Player, error) {
	g.mu.RLock()
	r, ok := g.byCode[codeKey{game, code}]
	g.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", protocol.ErrRoomNotFound, game, code)
	}

	player, err := r.AddMember(playerID, name, sender, protocol.TypeRoomJoined, authToken)
	if err != nil {
		return nil, nil, err
	}
	return r, player, nil
}

// Lookup resolves a room by id, for reconnection and maintenance.
func (g *Registry) Lookup(id types.RoomID) (*room.Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.byID[id]
	return r, ok
}

// LookupByCode resolves a room by its (gameName, code) pair.
func (g *Registry) LookupByCode(game types.GameName, code types.RoomCode) (*room.Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.byCode[codeKey{game, code}]
	return r, ok
}

// Remove drops a room from the index. The room itself must already be
// closed (or about to be) by the caller.
func (g *Registry) Remove(id types.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.byID[id]
	if !ok {
		return
	}
	delete(g.byID, id)
	delete(g.byCode, codeKey{r.GameName(), r.Code()})
	if g.perGame[r.GameName()] <= 1 {
		delete(g.perGame, r.GameName())
	} else {
		g.perGame[r.GameName()]--
	}
	if appID := r.AppID(); appID != "" {
		if g.perApp[appID] <= 1 {
			delete(g.perApp, appID)
		} else {
			g.perApp[appID]--
		}
	}
	metrics.ActiveRooms.Dec()
}

// RoomCount reports the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// Rooms returns a snapshot of all live rooms.
func (g *Registry) Rooms() []*room.Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*room.Room, 0, len(g.byID))
	for _, r := range g.byID {
		out = append(out, r)
	}
	return out
}

// SweptRoom describes one room destroyed by a sweep.
type SweptRoom struct {
	RoomID types.RoomID
	Reason string
}

// SweepExpired destroys rooms that have been empty longer than emptyTimeout
// or inactive longer than inactiveTimeout. Each destroyed room broadcasts
// RoomClosed to its remaining audience before state is dropped.
func (g *Registry) SweepExpired(now time.Time, emptyTimeout, inactiveTimeout time.Duration) []SweptRoom {
	var swept []SweptRoom
	for _, r := range g.Rooms() {
		reason := ""
		if empty := r.EmptySince(); !empty.IsZero() && now.Sub(empty) >= emptyTimeout {
			reason = "empty"
		} else if inactiveTimeout > 0 && now.Sub(r.LastActivityAt()) >= inactiveTimeout {
			reason = "inactive"
		}
		if reason == "" {
			continue
		}

		r.Close("room " + reason + " timeout")
		g.Remove(r.ID())
		metrics.RoomsSwept.WithLabelValues(reason).Inc()
		swept = append(swept, SweptRoom{RoomID: r.ID(), Reason: reason})

		logging.Info(context.Background(), "Swept room",
			zap.String("roomId", string(r.ID())),
			zap.String("reason", reason))
	}
	return swept
}

// CloseAll shuts every room down, for graceful shutdown.
func (g *Registry) CloseAll(reason string) {
	for _, r := range g.Rooms() {
		r.Close(reason)
		g.Remove(r.ID())
	}
}
