package identity

import (
	"context"
	"strings"
	"time"

	"mes/cmd/identity/ids"
)

// Roles carried in the access token "role" claim.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleOperator   = "operator"
	RoleViewer     = "viewer"
)

// Account is an MES login principal.
type Account struct {
	ID             string
	Email          string
	EmailNorm      string
	PasswordHash   string
	Role           string
	OrganizationID string
	CreatedAt      time.Time
}

// CreateAccountInput describes a new account. PasswordHash must already be encoded.
type CreateAccountInput struct {
	Email          string
	PasswordHash   string
	Role           string
	OrganizationID string
	Now            time.Time
}

// Store is the account persistence boundary.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	AccountByID(ctx context.Context, id string) (Account, error)
}

// prepare validates in and builds the Account both stores insert.
func prepare(op string, in CreateAccountInput) (Account, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, invalid(op, "valid email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return Account{}, invalid(op, "password hash is required")
	}

	role := RoleOperator
	if strings.TrimSpace(in.Role) != "" {
		role = NormalizeRole(in.Role)
		if role == "" {
			return Account{}, invalid(op, "unknown role")
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Account{}, err
	}

	return Account{
		ID:             id,
		Email:          email,
		EmailNorm:      NormalizeEmail(email),
		PasswordHash:   in.PasswordHash,
		Role:           role,
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		CreatedAt:      now.UTC(),
	}, nil
}
