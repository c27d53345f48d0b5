// Package auth implements application authentication for the WebSocket
// handshake: a static registry of authorized apps from configuration, keyed
// by appId, each carrying its quotas.
package auth

import (
	"crypto/subtle"
	"fmt"

	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/protocol"
)

// AppContext is the authenticated application identity attached to a session.
type AppContext struct {
	AppID              string
	AppName            string
	Organization       string
	MaxRooms           int
	MaxPlayersPerRoom  int
	RateLimitPerMinute int
}

// RateLimits builds the wire view of the app's quotas for the Authenticated reply.
func (a *AppContext) RateLimits() protocol.RateLimitInfo {
	return protocol.RateLimitInfo{
		MaxRooms:           a.MaxRooms,
		MaxPlayersPerRoom:  a.MaxPlayersPerRoom,
		RateLimitPerMinute: a.RateLimitPerMinute,
	}
}

// Authenticator resolves app credentials to an AppContext.
type Authenticator interface {
	Authenticate(appID, appSecret string) (*AppContext, error)
}

// Registry is the static, in-memory Authenticator built from configuration.
type Registry struct {
	apps map[string]registeredApp
}

type registeredApp struct {
	secret string
	ctx    AppContext
}

// NewRegistry builds a Registry from the configured authorized apps.
func NewRegistry(apps []config.AppCredential) *Registry {
	r := &Registry{apps: make(map[string]registeredApp, len(apps))}
	for _, app := range apps {
		name := app.AppName
		if name == "" {
			name = app.AppID
		}
		r.apps[app.AppID] = registeredApp{
			secret: app.AppSecret,
			ctx: AppContext{
				AppID:              app.AppID,
				AppName:            name,
				Organization:       app.Organization,
				MaxRooms:           app.MaxRooms,
				MaxPlayersPerRoom:  app.MaxPlayersPerRoom,
				RateLimitPerMinute: app.RateLimitPerMinute,
			},
		}
	}
	return r
}

// Authenticate looks up the app and, when the registration carries a secret,
// verifies it in constant time. The returned AppContext is a copy.
func (r *Registry) Authenticate(appID, appSecret string) (*AppContext, error) {
	app, ok := r.apps[appID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", protocol.ErrInvalidAppID, appID)
	}
	if app.secret != "" {
		if subtle.ConstantTimeCompare([]byte(app.secret), []byte(appSecret)) != 1 {
			return nil, fmt.Errorf("%w: secret mismatch for %q", protocol.ErrInvalidAppID, appID)
		}
	}
	ctx := app.ctx
	return &ctx, nil
}

// Apps returns the registered AppContexts, for rate-limiter construction.
func (r *Registry) Apps() []AppContext {
	out := make([]AppContext, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, app.ctx)
	}
	return out
}

// MockAuthenticator accepts any appId, for tests and auth-disabled setups.
type MockAuthenticator struct {
	Quotas protocol.RateLimitInfo
}

// Authenticate returns a permissive AppContext for any appId.
func (m *MockAuthenticator) Authenticate(appID, _ string) (*AppContext, error) {
	return &AppContext{
		AppID:              appID,
		AppName:            appID,
		MaxRooms:           m.Quotas.MaxRooms,
		MaxPlayersPerRoom:  m.Quotas.MaxPlayersPerRoom,
		RateLimitPerMinute: m.Quotas.RateLimitPerMinute,
	}, nil
}
