package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// route dispatches one inbound envelope: the auth gate first, then the
// per-app rate limit, then the per-type handler. Handlers report false for
// any failure answered with an error message; the session stays open unless
// the failure itself demands closing.
func (s *Session) route(env protocol.Envelope) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.MessagesProcessed.WithLabelValues(env.Type, status).Inc()
		metrics.MessageHandlingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	}()

	if s.State() >= StateClosing {
		status = "dropped"
		return
	}

	if env.Type == protocol.TypeAuthenticate {
		if !s.handleAuthenticate(env.Data) {
			status = "error"
		}
		return
	}

	if s.deps.Cfg.Security.RequireWebsocketAuth && s.State() == StatePendingAuth {
		status = "unauthenticated"
		s.sendAuthError("authentication required before any other message", protocol.CodeAuthenticationRequired)
		s.Close(types.CloseReasonAuthFailed)
		return
	}

	if app := s.appContext(); app != nil && env.Type != protocol.TypePing {
		if !s.deps.Limiter.AllowApp(s.ctx, app.AppID) {
			status = "rate_limited"
			s.sendError("application rate limit exceeded", protocol.CodeRateLimitExceeded)
			return
		}
	}

	ok := true
	switch env.Type {
	case protocol.TypeJoinRoom:
		ok = s.handleJoinRoom(env.Data)
	case protocol.TypeLeaveRoom:
		ok = s.handleLeaveRoom()
	case protocol.TypeGameData:
		ok = s.handleGameData(env.Data)
	case protocol.TypePlayerReady:
		ok = s.handlePlayerReady()
	case protocol.TypeAuthorityRequest:
		ok = s.handleAuthorityRequest(env.Data)
	case protocol.TypeProvideConnectionInfo:
		ok = s.handleProvideConnectionInfo(env.Data)
	case protocol.TypePing:
		ok = s.reply(protocol.TypePong, nil)
	case protocol.TypeReconnect:
		ok = s.handleReconnect(env.Data)
	case protocol.TypeJoinAsSpectator:
		ok = s.handleJoinAsSpectator(env.Data)
	case protocol.TypeLeaveSpectator:
		ok = s.handleLeaveSpectator()
	default:
		ok = false
		s.sendError("unknown message type: "+env.Type, protocol.CodeInvalidMessage)
	}
	if !ok {
		status = "error"
	}
}

// reply enqueues a direct response. A full queue here means the client is
// not draining even its own replies, so the slow-consumer close applies.
func (s *Session) reply(msgType string, payload any) bool {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		logging.Error(s.ctx, "Failed to build reply",
			zap.String("type", msgType), zap.Error(err))
		return false
	}
	if !s.Enqueue(env) {
		metrics.SlowConsumerCloses.Inc()
		s.Close(types.CloseReasonSlowConsumer)
		return false
	}
	return true
}

func (s *Session) sendError(message, code string) {
	s.reply(protocol.TypeError, protocol.ErrorPayload{
		Message:   message,
		ErrorCode: code,
	})
}

func (s *Session) sendAuthError(message, code string) {
	s.reply(protocol.TypeAuthenticationError, protocol.AuthenticationErrorPayload{
		Error:     message,
		ErrorCode: code,
	})
}
