package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mes/cmd/identity"
	"mes/cmd/security/password"
)

// bootstrapAdmin seeds the first admin account from MES_BOOTSTRAP_ADMIN_*.
// It does nothing when no email is configured or the account already exists.
func bootstrapAdmin(ctx context.Context, log *slog.Logger, accounts identity.Store, passwords password.Config, cfg Config) error {
	if cfg.BootstrapAdminEmail == "" {
		return nil
	}

	_, err := accounts.AccountByEmail(ctx, cfg.BootstrapAdminEmail)
	switch {
	case err == nil:
		log.Info("bootstrap.admin.exists", "email", identity.NormalizeEmail(cfg.BootstrapAdminEmail))
		return nil
	case !identity.IsNotFound(err):
		return fmt.Errorf("bootstrap admin: lookup: %w", err)
	}

	if err := passwords.Validate(cfg.BootstrapAdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	hash, err := passwords.Hash(cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: hash: %w", err)
	}

	acc, err := accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Email:          cfg.BootstrapAdminEmail,
		PasswordHash:   hash,
		Role:           identity.RoleAdmin,
		OrganizationID: cfg.BootstrapAdminOrg,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		if identity.IsConflict(err) {
			// Another replica won the race.
			return nil
		}
		return fmt.Errorf("bootstrap admin: create: %w", err)
	}

	log.Info("bootstrap.admin.created", "account_id", acc.ID, "email", acc.EmailNorm)
	return nil
}
