package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute

	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig tunes the websocket transport.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's own origin verification. Dev only.
	DevInsecure bool

	OriginRequired bool
	AllowedOrigins []string

	// RequireAuth demands a valid bearer token (header or access_token query) on upgrade.
	RequireAuth bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig is secure by default: Origin required, localhost only.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   true,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads MES_WS_* variables over DefaultGatewayConfig.
// Invalid values keep the default.
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	cfg.DevInsecure = envBool("MES_WS_DEV_INSECURE", cfg.DevInsecure)
	cfg.OriginRequired = envBool("MES_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	if v := strings.TrimSpace(os.Getenv("MES_WS_ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	cfg.RequireAuth = envBool("MES_WS_REQUIRE_AUTH", cfg.RequireAuth)

	cfg.WriteTimeout = envDuration("MES_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadIdleTimeout = envDuration("MES_WS_READ_IDLE_TIMEOUT", cfg.ReadIdleTimeout)
	cfg.SendQueueSize = envInt("MES_WS_SEND_QUEUE", cfg.SendQueueSize)

	cfg.HeartbeatEvery = envDuration("MES_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDuration("MES_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	cfg.RateEvents = envInt("MES_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDuration("MES_WS_RATE_WINDOW", cfg.RateWindow)

	return cfg.normalized()
}

func (c GatewayConfig) normalized() GatewayConfig {
	def := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = def.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
