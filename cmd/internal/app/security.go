package app

import (
	"errors"
	"fmt"
	"strings"

	"mes/cmd/internal/auth/session"
)

// MinStrongSecretBytes is the HS256 key length enforced by MES_REQUIRE_STRONG_SECRET.
const MinStrongSecretBytes = 32

// ValidateSecurityConfig enforces the startup security policy.
// Length is measured in bytes because the key is used as raw bytes.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if cfg.BootstrapAdminPassword != "" && cfg.BootstrapAdminEmail == "" {
		return errors.New("security policy: MES_BOOTSTRAP_ADMIN_PASSWORD set without MES_BOOTSTRAP_ADMIN_EMAIL")
	}
	if !cfg.RequireStrongSecret {
		return nil
	}

	secret := strings.TrimSpace(sess.Secret)
	switch {
	case secret == "":
		return errors.New("security policy: MES_REQUIRE_STRONG_SECRET=true but MES_JWT_SECRET is missing")
	case len(sess.Secret) < MinStrongSecretBytes:
		return fmt.Errorf("security policy: MES_REQUIRE_STRONG_SECRET=true but MES_JWT_SECRET is too short (min %d bytes)", MinStrongSecretBytes)
	}
	return nil
}
