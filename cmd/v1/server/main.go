package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/auth"
	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/health"
	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/maintenance"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/ratelimit"
	"github.com/meshplay/signaling/internal/v1/reconnect"
	"github.com/meshplay/signaling/internal/v1/registry"
	"github.com/meshplay/signaling/internal/v1/session"
	"github.com/meshplay/signaling/internal/v1/transport"
)

func main() {
	// Load .env for local development. Absence is fine: production relies on
	// real environment variables.
	_ = godotenv.Load()

	development := os.Getenv("SIGNALING_ENV") != "production"
	if err := logging.Initialize(development); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("SIGNALING_CONFIG"))
	if err != nil {
		logging.Fatal(ctx, "Configuration invalid", zap.Error(err))
	}

	// --- Authentication ---
	var authenticator auth.Authenticator
	var apps []auth.AppContext
	if len(cfg.Security.AuthorizedApps) > 0 {
		reg := auth.NewRegistry(cfg.Security.AuthorizedApps)
		authenticator = reg
		apps = reg.Apps()
		logging.Info(ctx, "App authentication enabled",
			zap.Int("apps", len(apps)),
			zap.Bool("required", cfg.Security.RequireWebsocketAuth))
	} else {
		authenticator = &auth.MockAuthenticator{Quotas: protocol.RateLimitInfo{
			MaxRooms:          cfg.Server.MaxRoomsPerGame,
			MaxPlayersPerRoom: cfg.Protocol.MaxPlayersLimit,
		}}
		logging.Warn(ctx, "No authorized apps configured, accepting any appId")
	}

	// --- Core state ---
	limiter := ratelimit.New(cfg.RateLimit, apps)
	rooms := registry.New(registry.Options{
		MaxRoomsPerGame: cfg.Server.MaxRoomsPerGame,
		RoomCodeLength:  cfg.Protocol.RoomCodeLength,
		EventBufferSize: cfg.Server.EventBufferSize,
		LobbyCountdown:  cfg.Server.LobbyCountdown,
	})
	tokens := reconnect.NewStore(cfg.Server.ReconnectionWindow)

	manager := session.NewManager(session.Deps{
		Cfg:       cfg,
		Auth:      authenticator,
		Limiter:   limiter,
		Registry:  rooms,
		Reconnect: tokens,
	})

	sweeper := maintenance.NewScheduler(rooms, tokens, manager, cfg.Server)
	sweeper.Start()

	// --- HTTP surface ---
	hub := transport.NewHub(manager, cfg)
	router := transport.NewRouter(hub, health.NewHandler(rooms, manager), cfg)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "Signaling server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// Stop accepting, stop the sweeper, close rooms (which notifies and
	// closes their sessions), then wait for the writers to flush.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "HTTP shutdown error", zap.Error(err))
	}
	sweeper.Stop()
	rooms.CloseAll("server shutting down")
	manager.Shutdown(shutdownCtx)

	logging.Info(ctx, "Server exited")
}
