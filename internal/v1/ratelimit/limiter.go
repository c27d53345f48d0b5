// Package ratelimit implements the per-IP and per-app rate limiting layers
// on top of ulule/limiter's in-memory store, plus the per-IP live-connection
// cap. All state is process-local.
package ratelimit

import (
	"context"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/auth"
	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/metrics"
)

// Limiter bundles the three bucket scopes from the spec: per-IP room
// creation, per-IP joins, and the per-app global bucket.
type Limiter struct {
	ipCreate *limiter.Limiter
	ipJoin   *limiter.Limiter
	apps     map[string]*limiter.Limiter
	store    limiter.Store
}

// New builds a Limiter from the rate-limit configuration and the registered
// apps (each app gets its own bucket at rateLimitPerMinute).
func New(cfg config.RateLimitConfig, apps []auth.AppContext) *Limiter {
	store := memory.NewStore()

	l := &Limiter{
		ipCreate: limiter.New(store, limiter.Rate{
			Period: cfg.TimeWindow,
			Limit:  int64(cfg.MaxRoomCreations),
		}),
		ipJoin: limiter.New(store, limiter.Rate{
			Period: cfg.TimeWindow,
			Limit:  int64(cfg.MaxJoinAttempts),
		}),
		apps:  make(map[string]*limiter.Limiter, len(apps)),
		store: store,
	}

	for _, app := range apps {
		if app.RateLimitPerMinute <= 0 {
			continue // unlimited app
		}
		l.apps[app.AppID] = limiter.New(store, limiter.Rate{
			Period: time.Minute,
			Limit:  int64(app.RateLimitPerMinute),
		})
	}

	return l
}

// AllowCreate drains the per-IP room-creation bucket. Fails open on store
// errors so a limiter fault never takes the service down.
func (l *Limiter) AllowCreate(ctx context.Context, ip string) bool {
	return l.allow(ctx, l.ipCreate, "create:"+ip, "ipCreate")
}

// AllowJoin drains the per-IP join bucket.
func (l *Limiter) AllowJoin(ctx context.Context, ip string) bool {
	return l.allow(ctx, l.ipJoin, "join:"+ip, "ipJoin")
}

// AllowApp drains the per-app global bucket. Apps without a configured
// limit are always allowed.
func (l *Limiter) AllowApp(ctx context.Context, appID string) bool {
	lim, ok := l.apps[appID]
	if !ok {
		return true
	}
	return l.allow(ctx, lim, "app:"+appID, "app")
}

func (l *Limiter) allow(ctx context.Context, lim *limiter.Limiter, key, scope string) bool {
	res, err := lim.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.String("scope", scope), zap.Error(err))
		return true // fail open
	}
	if res.Reached {
		metrics.RateLimited.WithLabelValues(scope).Inc()
		return false
	}
	return true
}
