package session

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/registry"
	"github.com/meshplay/signaling/internal/v1/room"
	"github.com/meshplay/signaling/internal/v1/types"
)

func (s *Session) handleAuthenticate(data json.RawMessage) bool {
	var p protocol.AuthenticatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.AppID == "" {
		s.sendError("Authenticate requires an appId", protocol.CodeInvalidMessage)
		return false
	}

	if s.appContext() != nil {
		s.sendError("session is already authenticated", protocol.CodeInvalidMessage)
		return false
	}

	app, err := s.deps.Auth.Authenticate(p.AppID, p.AppSecret)
	if err != nil {
		logging.Warn(s.ctx, "Authentication rejected",
			zap.String("appId", p.AppID), zap.Error(err))
		s.sendAuthError("invalid application credentials", protocol.ErrorCode(err))
		s.Close(types.CloseReasonAuthFailed)
		return false
	}

	s.mu.Lock()
	s.app = app
	if s.state == StatePendingAuth {
		s.state = StateActive
	}
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	s.mu.Unlock()

	logging.Info(s.ctx, "Session authenticated",
		zap.String("appId", app.AppID),
		zap.String("sdkVersion", p.SDKVersion),
		zap.String("platform", p.Platform))

	return s.reply(protocol.TypeAuthenticated, protocol.AuthenticatedPayload{
		AppName:      app.AppName,
		Organization: app.Organization,
		RateLimits:   app.RateLimits(),
	})
}

func (s *Session) joinFailed(reason, code string) bool {
	s.reply(protocol.TypeRoomJoinFailed, protocol.RoomJoinFailedPayload{
		Reason:    reason,
		ErrorCode: code,
	})
	return false
}

// handleJoinRoom covers both the create path (no roomCode) and the join
// path. The acknowledgement with the room snapshot is enqueued by the room
// itself, under its lock, so it precedes every subsequent room event.
func (s *Session) handleJoinRoom(data json.RawMessage) bool {
	var p protocol.JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed JoinRoom payload", protocol.CodeInvalidMessage)
		return false
	}

	if s.currentPlayer() != nil || s.currentSpectator() != nil {
		return s.joinFailed("session is already in a room", protocol.CodeAlreadyInRoom)
	}

	limits := s.deps.Cfg.Limits()
	gameName, err := limits.ValidateGameName(p.GameName)
	if err != nil {
		return s.joinFailed(err.Error(), protocol.ErrorCode(err))
	}
	playerName, err := limits.ValidatePlayerName(p.PlayerName)
	if err != nil {
		return s.joinFailed(err.Error(), protocol.ErrorCode(err))
	}

	playerID := types.NewPlayerID()
	secret := uuid.NewString()

	if p.RoomCode == "" {
		return s.createRoom(p, types.GameName(gameName), playerID, playerName, secret)
	}

	code, err := limits.NormalizeRoomCode(p.RoomCode)
	if err != nil {
		return s.joinFailed(err.Error(), protocol.ErrorCode(err))
	}
	if !s.deps.Limiter.AllowJoin(s.ctx, s.remoteIP) {
		return s.joinFailed("join rate limit exceeded", protocol.CodeRateLimitExceeded)
	}

	r, player, err := s.deps.Registry.JoinRoom(types.GameName(gameName), types.RoomCode(code), playerID, playerName, s, secret)
	if err != nil {
		return s.joinFailed(err.Error(), protocol.ErrorCode(err))
	}

	s.setPlayer(r.ID(), player.ID, secret)
	logging.Info(logging.WithRoom(s.ctx, string(r.ID())), "Player joined room",
		zap.String("playerId", string(player.ID)),
		zap.String("roomCode", string(r.Code())))
	return true
}

func (s *Session) createRoom(p protocol.JoinRoomPayload, gameName types.GameName, playerID types.PlayerID, playerName, secret string) bool {
	if !s.deps.Limiter.AllowCreate(s.ctx, s.remoteIP) {
		return s.joinFailed("room creation rate limit exceeded", protocol.CodeRateLimitExceeded)
	}

	limits := s.deps.Cfg.Limits()
	maxPlayers, err := limits.ResolveMaxPlayers(p.MaxPlayers)
	if err != nil {
		return s.joinFailed(err.Error(), protocol.ErrorCode(err))
	}

	params := registry.CreateParams{
		GameName:          gameName,
		MaxPlayers:        maxPlayers,
		SupportsAuthority: true,
		RelayType:         types.RelayType(p.RelayTransport),
	}
	if p.SupportsAuthority != nil {
		params.SupportsAuthority = *p.SupportsAuthority
	}
	if app := s.appContext(); app != nil {
		if app.MaxPlayersPerRoom > 0 && maxPlayers > app.MaxPlayersPerRoom {
			return s.joinFailed("maxPlayers exceeds the application quota", protocol.CodeMaxPlayersPerRoomExceeded)
		}
		params.AppID = app.AppID
		params.AppMaxRooms = app.MaxRooms
	}

	r, player, err := s.deps.Registry.CreateRoom(params, playerID, playerName, s, secret)
	if err != nil {
		return s.joinFailed(err.Error(), protocol.ErrorCode(err))
	}

	s.setPlayer(r.ID(), player.ID, secret)
	return true
}

// memberRoom resolves the session's current room, or answers NotInRoom.
func (s *Session) memberRoom() (*room.Room, *playerRef, bool) {
	ref := s.currentPlayer()
	if ref == nil {
		s.sendError("session is not in a room", protocol.CodeNotInRoom)
		return nil, nil, false
	}
	r, ok := s.deps.Registry.Lookup(ref.roomID)
	if !ok || r.Closed() {
		s.clearPlayer()
		s.sendError("room no longer exists", protocol.CodeRoomNotFound)
		return nil, nil, false
	}
	return r, ref, true
}

func (s *Session) handleLeaveRoom() bool {
	r, ref, ok := s.memberRoom()
	if !ok {
		return false
	}

	s.clearPlayer()
	if err := r.RemoveMember(ref.playerID, true); err != nil {
		s.sendError(err.Error(), protocol.ErrorCode(err))
		return false
	}
	return s.reply(protocol.TypeRoomLeft, nil)
}

func (s *Session) handleGameData(data json.RawMessage) bool {
	var p protocol.GameDataPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed GameData payload", protocol.CodeInvalidMessage)
		return false
	}

	r, ref, ok := s.memberRoom()
	if !ok {
		return false
	}
	if err := r.RelayGameData(ref.playerID, p.Data); err != nil {
		s.sendError(err.Error(), protocol.ErrorCode(err))
		return false
	}
	return true
}

func (s *Session) handlePlayerReady() bool {
	r, ref, ok := s.memberRoom()
	if !ok {
		return false
	}
	if err := r.SetReady(ref.playerID); err != nil {
		s.sendError(err.Error(), protocol.ErrorCode(err))
		return false
	}
	return true
}

func (s *Session) handleAuthorityRequest(data json.RawMessage) bool {
	var p protocol.AuthorityRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed AuthorityRequest payload", protocol.CodeInvalidMessage)
		return false
	}

	r, ref, ok := s.memberRoom()
	if !ok {
		return false
	}
	res, err := r.RequestAuthority(ref.playerID, p.BecomeAuthority)
	if err != nil {
		s.sendError(err.Error(), protocol.ErrorCode(err))
		return false
	}
	return s.reply(protocol.TypeAuthorityResponse, protocol.AuthorityResponsePayload{
		Granted:   res.Granted,
		Reason:    res.Reason,
		ErrorCode: res.ErrorCode,
	})
}

func (s *Session) handleProvideConnectionInfo(data json.RawMessage) bool {
	var p protocol.ProvideConnectionInfoPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed ProvideConnectionInfo payload", protocol.CodeInvalidMessage)
		return false
	}

	r, ref, ok := s.memberRoom()
	if !ok {
		return false
	}
	if err := r.SetConnectionInfo(ref.playerID, p.ConnectionInfo); err != nil {
		s.sendError(err.Error(), protocol.ErrorCode(err))
		return false
	}
	return true
}

func (s *Session) reconnectFailed(outcome, reason, code string) bool {
	metrics.ReconnectAttempts.WithLabelValues(outcome).Inc()
	s.reply(protocol.TypeReconnectionFailed, protocol.ReconnectionFailedPayload{
		Reason:    reason,
		ErrorCode: code,
	})
	return false
}

// handleReconnect validates and consumes the token, reattaches the session
// to the parked member, and lets the room deliver the Reconnected snapshot
// with the missed-event replay.
func (s *Session) handleReconnect(data json.RawMessage) bool {
	var p protocol.ReconnectPayload
	if err := json.Unmarshal(data, &p); err != nil || p.PlayerID == "" || p.RoomID == "" {
		s.sendError("malformed Reconnect payload", protocol.CodeInvalidMessage)
		return false
	}

	if s.currentPlayer() != nil {
		return s.reconnectFailed("rejected", "session is already in a room", protocol.CodeAlreadyInRoom)
	}

	playerID := types.PlayerID(p.PlayerID)
	roomID := types.RoomID(p.RoomID)

	tok, err := s.deps.Reconnect.Consume(playerID, roomID, p.AuthToken)
	if err != nil {
		return s.reconnectFailed("invalid_token", err.Error(), protocol.ErrorCode(err))
	}

	r, ok := s.deps.Registry.Lookup(roomID)
	if !ok || r.Closed() {
		return s.reconnectFailed("room_gone", "room no longer exists", protocol.CodeRoomNotFound)
	}

	secret := uuid.NewString()
	if err := r.Resume(playerID, s, tok.WasAuthority, tok.LastEventSeq, secret); err != nil {
		return s.reconnectFailed("rejected", err.Error(), protocol.ErrorCode(err))
	}

	s.setPlayer(roomID, playerID, secret)
	metrics.ReconnectAttempts.WithLabelValues("success").Inc()
	logging.Info(logging.WithRoom(s.ctx, string(roomID)), "Player reconnected",
		zap.String("playerId", string(playerID)),
		zap.Uint64("replayAfterSeq", tok.LastEventSeq))
	return true
}

func (s *Session) spectateFailed(reason, code string) bool {
	s.reply(protocol.TypeSpectatorJoinFailed, protocol.SpectatorJoinFailedPayload{
		Reason:    reason,
		ErrorCode: code,
	})
	return false
}

func (s *Session) handleJoinAsSpectator(data json.RawMessage) bool {
	var p protocol.JoinAsSpectatorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed JoinAsSpectator payload", protocol.CodeInvalidMessage)
		return false
	}

	if s.currentPlayer() != nil || s.currentSpectator() != nil {
		return s.spectateFailed("session is already in a room", protocol.CodeAlreadyInRoom)
	}

	limits := s.deps.Cfg.Limits()
	gameName, err := limits.ValidateGameName(p.GameName)
	if err != nil {
		return s.spectateFailed(err.Error(), protocol.ErrorCode(err))
	}
	name, err := limits.ValidatePlayerName(p.SpectatorName)
	if err != nil {
		return s.spectateFailed(err.Error(), protocol.ErrorCode(err))
	}
	code, err := limits.NormalizeRoomCode(p.RoomCode)
	if err != nil {
		return s.spectateFailed(err.Error(), protocol.ErrorCode(err))
	}
	if !s.deps.Limiter.AllowJoin(s.ctx, s.remoteIP) {
		return s.spectateFailed("join rate limit exceeded", protocol.CodeRateLimitExceeded)
	}

	r, ok := s.deps.Registry.LookupByCode(types.GameName(gameName), types.RoomCode(code))
	if !ok {
		return s.spectateFailed("room not found", protocol.CodeRoomNotFound)
	}

	spectatorID := types.NewSpectatorID()
	if _, err := r.AddSpectator(spectatorID, name, s); err != nil {
		return s.spectateFailed(err.Error(), protocol.ErrorCode(err))
	}

	s.mu.Lock()
	s.spectator = &spectatorRef{roomID: r.ID(), spectatorID: spectatorID}
	s.mu.Unlock()

	logging.Info(logging.WithRoom(s.ctx, string(r.ID())), "Spectator joined",
		zap.String("spectatorId", string(spectatorID)))
	return true
}

func (s *Session) handleLeaveSpectator() bool {
	ref := s.currentSpectator()
	if ref == nil {
		s.sendError("session is not spectating", protocol.CodeNotInRoom)
		return false
	}

	s.mu.Lock()
	s.spectator = nil
	s.mu.Unlock()

	if r, ok := s.deps.Registry.Lookup(ref.roomID); ok && !r.Closed() {
		_ = r.RemoveSpectator(ref.spectatorID, false)
	}
	return true
}
