package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"

	"mes/cmd/internal/httpx"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	LoginIPMax    int
	LoginIPWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	InviteTTL        time.Duration
	InviteMaxTTL     time.Duration
	InviteMaxUses    int
	InviteMaxUsesMax int
}

// DefaultConfig returns the defaults LoadConfigFromEnv starts from.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           httpx.DefaultMaxBodyBytes,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
		InviteTTL:              7 * 24 * time.Hour,
		InviteMaxTTL:           30 * 24 * time.Hour,
		InviteMaxUses:          1,
		InviteMaxUsesMax:       50,
	}
}

// LoadConfigFromEnv loads auth config from MES_AUTH_* variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:             envBool("MES_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:           envInt64("MES_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		LoginIPMax:             envInt("MES_AUTH_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:          envDuration("MES_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LockoutShortThreshold:  envInt("MES_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD", def.LockoutShortThreshold),
		LockoutShortDuration:   envDuration("MES_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", def.LockoutShortDuration),
		LockoutLongThreshold:   envInt("MES_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD", def.LockoutLongThreshold),
		LockoutLongDuration:    envDuration("MES_AUTH_LOGIN_LOCKOUT_LONG_DURATION", def.LockoutLongDuration),
		LockoutSevereThreshold: envInt("MES_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD", def.LockoutSevereThreshold),
		LockoutSevereDuration:  envDuration("MES_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION", def.LockoutSevereDuration),
		InviteTTL:              envDuration("MES_AUTH_INVITE_TTL", def.InviteTTL),
		InviteMaxTTL:           envDuration("MES_AUTH_INVITE_MAX_TTL", def.InviteMaxTTL),
		InviteMaxUses:          envInt("MES_AUTH_INVITE_MAX_USES", def.InviteMaxUses),
		InviteMaxUsesMax:       envInt("MES_AUTH_INVITE_MAX_USES_MAX", def.InviteMaxUsesMax),
	}

	// Tiers must escalate; otherwise fall back to the defaults as a set.
	if !(cfg.LockoutShortThreshold < cfg.LockoutLongThreshold && cfg.LockoutLongThreshold < cfg.LockoutSevereThreshold) {
		cfg.LockoutShortThreshold = def.LockoutShortThreshold
		cfg.LockoutLongThreshold = def.LockoutLongThreshold
		cfg.LockoutSevereThreshold = def.LockoutSevereThreshold
	}

	if cfg.InviteTTL > cfg.InviteMaxTTL {
		cfg.InviteTTL = cfg.InviteMaxTTL
	}
	if cfg.InviteMaxUses > cfg.InviteMaxUsesMax {
		cfg.InviteMaxUses = cfg.InviteMaxUsesMax
	}

	return cfg
}

// lockoutTiers returns the progressive lockout tiers, most severe first.
func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
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

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
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
