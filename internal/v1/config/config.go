// Package config loads and validates server configuration from a YAML file
// with an environment-variable overlay (SIGNALING_ prefix, dots become
// underscores: server.pingTimeout -> SIGNALING_SERVER_PINGTIMEOUT).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/meshplay/signaling/internal/v1/protocol"
)

// Config is the validated configuration tree.
type Config struct {
	Port      int
	Server    ServerConfig
	RateLimit RateLimitConfig
	Protocol  ProtocolConfig
	Security  SecurityConfig
	WebSocket WebSocketConfig
}

// ServerConfig groups room and session lifecycle options.
type ServerConfig struct {
	DefaultMaxPlayers   int
	PingTimeout         time.Duration
	RoomCleanupInterval time.Duration
	MaxRoomsPerGame     int
	EmptyRoomTimeout    time.Duration
	InactiveRoomTimeout time.Duration
	ReconnectionWindow  time.Duration
	EventBufferSize     int
	EnableReconnection  bool
	LobbyCountdown      time.Duration
}

// RateLimitConfig holds the per-IP bucket parameters.
type RateLimitConfig struct {
	MaxRoomCreations int
	MaxJoinAttempts  int
	TimeWindow       time.Duration
}

// ProtocolConfig holds validation bounds for client-supplied strings.
type ProtocolConfig struct {
	MaxGameNameLength   int
	RoomCodeLength      int
	MaxPlayerNameLength int
	MaxPlayersLimit     int
}

// AppCredential is one authorized application with its quotas.
type AppCredential struct {
	AppID              string `mapstructure:"appId"`
	AppSecret          string `mapstructure:"appSecret"`
	AppName            string `mapstructure:"appName"`
	Organization       string `mapstructure:"organization"`
	MaxRooms           int    `mapstructure:"maxRooms"`
	MaxPlayersPerRoom  int    `mapstructure:"maxPlayersPerRoom"`
	RateLimitPerMinute int    `mapstructure:"rateLimitPerMinute"`
}

// SecurityConfig groups the auth and abuse-protection options.
type SecurityConfig struct {
	CorsOrigins          []string
	RequireWebsocketAuth bool
	MaxMessageSize       int64
	MaxConnectionsPerIP  int
	AuthorizedApps       []AppCredential
}

// WebSocketConfig holds outbound batching and handshake options.
type WebSocketConfig struct {
	EnableBatching    bool
	BatchSize         int
	BatchInterval     time.Duration
	AuthTimeout       time.Duration
	OutboundQueueSize int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)

	v.SetDefault("server.defaultMaxPlayers", 8)
	v.SetDefault("server.pingTimeout", 60)
	v.SetDefault("server.roomCleanupInterval", 30)
	v.SetDefault("server.maxRoomsPerGame", 1000)
	v.SetDefault("server.emptyRoomTimeout", 60)
	v.SetDefault("server.inactiveRoomTimeout", 1800)
	v.SetDefault("server.reconnectionWindow", 120)
	v.SetDefault("server.eventBufferSize", 256)
	v.SetDefault("server.enableReconnection", true)
	v.SetDefault("server.lobbyCountdownMs", 3000)

	v.SetDefault("rateLimit.maxRoomCreations", 10)
	v.SetDefault("rateLimit.maxJoinAttempts", 30)
	v.SetDefault("rateLimit.timeWindow", 60)

	v.SetDefault("protocol.maxGameNameLength", 50)
	v.SetDefault("protocol.roomCodeLength", 6)
	v.SetDefault("protocol.maxPlayerNameLength", 30)
	v.SetDefault("protocol.maxPlayersLimit", 16)

	v.SetDefault("security.corsOrigins", []string{"http://localhost:3000"})
	v.SetDefault("security.requireWebsocketAuth", false)
	v.SetDefault("security.maxMessageSize", 65536)
	v.SetDefault("security.maxConnectionsPerIp", 20)

	v.SetDefault("websocket.enableBatching", true)
	v.SetDefault("websocket.batchSize", 16)
	v.SetDefault("websocket.batchIntervalMs", 25)
	v.SetDefault("websocket.authTimeoutSecs", 10)
	v.SetDefault("websocket.outboundQueueSize", 256)
}

// Load reads configuration from the given file path (optional, "" skips the
// file) plus the environment overlay, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIGNALING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	cfg := &Config{
		Port: v.GetInt("port"),
		Server: ServerConfig{
			DefaultMaxPlayers:   v.GetInt("server.defaultMaxPlayers"),
			PingTimeout:         time.Duration(v.GetInt("server.pingTimeout")) * time.Second,
			RoomCleanupInterval: time.Duration(v.GetInt("server.roomCleanupInterval")) * time.Second,
			MaxRoomsPerGame:     v.GetInt("server.maxRoomsPerGame"),
			EmptyRoomTimeout:    time.Duration(v.GetInt("server.emptyRoomTimeout")) * time.Second,
			InactiveRoomTimeout: time.Duration(v.GetInt("server.inactiveRoomTimeout")) * time.Second,
			ReconnectionWindow:  time.Duration(v.GetInt("server.reconnectionWindow")) * time.Second,
			EventBufferSize:     v.GetInt("server.eventBufferSize"),
			EnableReconnection:  v.GetBool("server.enableReconnection"),
			LobbyCountdown:      time.Duration(v.GetInt("server.lobbyCountdownMs")) * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			MaxRoomCreations: v.GetInt("rateLimit.maxRoomCreations"),
			MaxJoinAttempts:  v.GetInt("rateLimit.maxJoinAttempts"),
			TimeWindow:       time.Duration(v.GetInt("rateLimit.timeWindow")) * time.Second,
		},
		Protocol: ProtocolConfig{
			MaxGameNameLength:   v.GetInt("protocol.maxGameNameLength"),
			RoomCodeLength:      v.GetInt("protocol.roomCodeLength"),
			MaxPlayerNameLength: v.GetInt("protocol.maxPlayerNameLength"),
			MaxPlayersLimit:     v.GetInt("protocol.maxPlayersLimit"),
		},
		Security: SecurityConfig{
			CorsOrigins:          v.GetStringSlice("security.corsOrigins"),
			RequireWebsocketAuth: v.GetBool("security.requireWebsocketAuth"),
			MaxMessageSize:       v.GetInt64("security.maxMessageSize"),
			MaxConnectionsPerIP:  v.GetInt("security.maxConnectionsPerIp"),
		},
		WebSocket: WebSocketConfig{
			EnableBatching:    v.GetBool("websocket.enableBatching"),
			BatchSize:         v.GetInt("websocket.batchSize"),
			BatchInterval:     time.Duration(v.GetInt("websocket.batchIntervalMs")) * time.Millisecond,
			AuthTimeout:       time.Duration(v.GetInt("websocket.authTimeoutSecs")) * time.Second,
			OutboundQueueSize: v.GetInt("websocket.outboundQueueSize"),
		},
	}

	if err := v.UnmarshalKey("security.authorizedApps", &cfg.Security.AuthorizedApps); err != nil {
		return nil, fmt.Errorf("parsing security.authorizedApps: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate collects every configuration problem before failing, so operators
// see all mistakes at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be between 1 and 65535 (got %d)", c.Port))
	}
	if c.Server.DefaultMaxPlayers < 1 {
		errs = append(errs, "server.defaultMaxPlayers must be at least 1")
	}
	if c.Server.DefaultMaxPlayers > c.Protocol.MaxPlayersLimit {
		errs = append(errs, fmt.Sprintf("server.defaultMaxPlayers (%d) exceeds protocol.maxPlayersLimit (%d)",
			c.Server.DefaultMaxPlayers, c.Protocol.MaxPlayersLimit))
	}
	if c.Server.RoomCleanupInterval <= 0 {
		errs = append(errs, "server.roomCleanupInterval must be positive")
	}
	if c.Server.EventBufferSize < 0 {
		errs = append(errs, "server.eventBufferSize must not be negative")
	}
	if c.RateLimit.MaxRoomCreations < 1 {
		errs = append(errs, "rateLimit.maxRoomCreations must be at least 1")
	}
	if c.RateLimit.MaxJoinAttempts < 1 {
		errs = append(errs, "rateLimit.maxJoinAttempts must be at least 1")
	}
	if c.RateLimit.TimeWindow <= 0 {
		errs = append(errs, "rateLimit.timeWindow must be positive")
	}
	if c.Protocol.RoomCodeLength < 4 || c.Protocol.RoomCodeLength > 12 {
		errs = append(errs, fmt.Sprintf("protocol.roomCodeLength must be between 4 and 12 (got %d)", c.Protocol.RoomCodeLength))
	}
	if c.Security.MaxMessageSize < 1024 {
		errs = append(errs, fmt.Sprintf("security.maxMessageSize must be at least 1024 (got %d)", c.Security.MaxMessageSize))
	}
	if c.Security.MaxConnectionsPerIP < 1 {
		errs = append(errs, "security.maxConnectionsPerIp must be at least 1")
	}
	if c.WebSocket.EnableBatching && c.WebSocket.BatchSize < 1 {
		errs = append(errs, "websocket.batchSize must be at least 1 when batching is enabled")
	}
	if c.WebSocket.OutboundQueueSize < 1 {
		errs = append(errs, "websocket.outboundQueueSize must be at least 1")
	}
	if c.Security.RequireWebsocketAuth && len(c.Security.AuthorizedApps) == 0 {
		errs = append(errs, "security.requireWebsocketAuth is enabled but security.authorizedApps is empty")
	}
	seen := map[string]bool{}
	for i, app := range c.Security.AuthorizedApps {
		if app.AppID == "" {
			errs = append(errs, fmt.Sprintf("security.authorizedApps[%d].appId must not be empty", i))
			continue
		}
		if seen[app.AppID] {
			errs = append(errs, fmt.Sprintf("security.authorizedApps contains duplicate appId %q", app.AppID))
		}
		seen[app.AppID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Limits exposes the protocol validation bounds for handlers.
func (c *Config) Limits() protocol.Limits {
	return protocol.Limits{
		MaxGameNameLength:   c.Protocol.MaxGameNameLength,
		MaxPlayerNameLength: c.Protocol.MaxPlayerNameLength,
		RoomCodeLength:      c.Protocol.RoomCodeLength,
		MaxPlayersLimit:     c.Protocol.MaxPlayersLimit,
		DefaultMaxPlayers:   c.Server.DefaultMaxPlayers,
	}
}

// Default returns a Config populated with defaults only, for tests and for
// running without a config file.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static and always valid.
		panic(err)
	}
	return cfg
}
