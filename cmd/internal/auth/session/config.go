package session

import (
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for token issuance and validation.
type Config struct {
	// Issuer is the value set in the "iss" claim and required on verify.
	Issuer string

	// AccessTokenTTL is the lifetime of issued access tokens.
	AccessTokenTTL time.Duration

	// ClockSkew is the leeway applied to exp/nbf/iat checks.
	ClockSkew time.Duration

	// Secret is the HS256 signing key.
	Secret string
}

// DefaultConfig returns defaults suitable for development. Secret is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:         "mes",
		AccessTokenTTL: 8 * time.Hour,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - MES_JWT_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - MES_AUTH_ISSUER
//   - MES_AUTH_ACCESS_TTL
//   - MES_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("MES_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("MES_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("MES_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.Secret = os.Getenv("MES_JWT_SECRET")
	if strings.TrimSpace(cfg.Secret) == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
