package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshplay/signaling/internal/v1/auth"
	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

func requireAuth(cfg *config.Config) {
	cfg.Security.RequireWebsocketAuth = true
	cfg.Security.AuthorizedApps = []config.AppCredential{
		{AppID: "app-1", AppSecret: "s3cret", AppName: "Test App"},
	}
}

func newAuthManager(t *testing.T, mutate func(*config.Config)) *Manager {
	t.Helper()
	m := newTestManager(t, func(cfg *config.Config) {
		requireAuth(cfg)
		if mutate != nil {
			mutate(cfg)
		}
	})
	m.deps.Auth = auth.NewRegistry(m.deps.Cfg.Security.AuthorizedApps)
	return m
}

func TestAuthGate_RejectsUnauthenticatedTraffic(t *testing.T) {
	m := newAuthManager(t, nil)
	s, conn := attach(t, m, "10.0.0.1")
	require.Equal(t, StatePendingAuth, s.State())

	send(t, conn, protocol.TypePing, nil)

	payload := decode[protocol.AuthenticationErrorPayload](t, conn.waitForType(t, protocol.TypeAuthenticationError))
	assert.Equal(t, protocol.CodeAuthenticationRequired, payload.ErrorCode)

	s.Wait()
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, types.CloseReasonAuthFailed, s.CloseReason())
}

func TestAuthenticate_Success(t *testing.T) {
	m := newAuthManager(t, nil)
	s, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypeAuthenticate, protocol.AuthenticatePayload{
		AppID:     "app-1",
		AppSecret: "s3cret",
	})
	payload := decode[protocol.AuthenticatedPayload](t, conn.waitForType(t, protocol.TypeAuthenticated))
	assert.Equal(t, "Test App", payload.AppName)
	assert.Equal(t, StateActive, s.State())

	// Regular traffic flows after the handshake.
	send(t, conn, protocol.TypePing, nil)
	conn.waitForType(t, protocol.TypePong)
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	m := newAuthManager(t, nil)
	s, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypeAuthenticate, protocol.AuthenticatePayload{
		AppID:     "app-1",
		AppSecret: "wrong",
	})
	payload := decode[protocol.AuthenticationErrorPayload](t, conn.waitForType(t, protocol.TypeAuthenticationError))
	assert.Equal(t, protocol.CodeInvalidAppID, payload.ErrorCode)

	s.Wait()
	assert.Equal(t, types.CloseReasonAuthFailed, s.CloseReason())
}

func TestAuthenticate_MissingAppID(t *testing.T) {
	m := newAuthManager(t, nil)
	s, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypeAuthenticate, protocol.AuthenticatePayload{})
	payload := decode[protocol.ErrorPayload](t, conn.waitForType(t, protocol.TypeError))
	assert.Equal(t, protocol.CodeInvalidMessage, payload.ErrorCode)

	// A malformed handshake attempt does not close the session.
	assert.Equal(t, StatePendingAuth, s.State())
}

func TestAuthenticate_RepeatRejected(t *testing.T) {
	m := newAuthManager(t, nil)
	_, conn := attach(t, m, "10.0.0.1")

	send(t, conn, protocol.TypeAuthenticate, protocol.AuthenticatePayload{
		AppID:     "app-1",
		AppSecret: "s3cret",
	})
	conn.waitForType(t, protocol.TypeAuthenticated)

	send(t, conn, protocol.TypeAuthenticate, protocol.AuthenticatePayload{
		AppID:     "app-1",
		AppSecret: "s3cret",
	})
	payload := decode[protocol.ErrorPayload](t, conn.waitForType(t, protocol.TypeError))
	assert.Equal(t, protocol.CodeInvalidMessage, payload.ErrorCode)
}

func TestAuthenticate_HandshakeTimeout(t *testing.T) {
	m := newAuthManager(t, func(cfg *config.Config) {
		cfg.WebSocket.AuthTimeout = 20 * time.Millisecond
	})
	s, conn := attach(t, m, "10.0.0.1")

	payload := decode[protocol.AuthenticationErrorPayload](t, conn.waitForType(t, protocol.TypeAuthenticationError))
	assert.Equal(t, protocol.CodeAuthenticationTimeout, payload.ErrorCode)

	s.Wait()
	assert.Equal(t, types.CloseReasonAuthTimeout, s.CloseReason())
}

func TestAuthDisabled_SessionStartsActive(t *testing.T) {
	m := newTestManager(t, nil)
	s, _ := attach(t, m, "10.0.0.1")
	assert.Equal(t, StateActive, s.State())
}
