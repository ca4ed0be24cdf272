package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements account persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema and table identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "mes").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "mes",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the accounts table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL(s.schema))
	return err
}

func schemaSQL(schema string) string {
	accounts := pgIdent(schema, "accounts")
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'operator',
  organization_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_accounts_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_accounts_email_norm UNIQUE (email_norm),
  CONSTRAINT chk_accounts_role CHECK (role IN ('admin', 'supervisor', 'operator', 'viewer'))
);
`, pgx.Identifier{schema}.Sanitize(), accounts)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if s == nil || s.pool == nil {
		return Account{}, invalid(op, "nil store")
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	acc, err := prepare(op, in)
	if err != nil {
		return Account{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "accounts")+` (
		     id, email, email_norm, password_hash, role, organization_id, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acc.ID,
		acc.Email,
		acc.EmailNorm,
		acc.PasswordHash,
		acc.Role,
		acc.OrganizationID,
		acc.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}
	return acc, nil
}

func (s *PostgresStore) AccountByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.AccountByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, invalid(op, "missing email")
	}
	return s.queryOne(ctx, op, `email_norm = $1`, norm)
}

func (s *PostgresStore) AccountByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.AccountByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, invalid(op, "missing id")
	}
	return s.queryOne(ctx, op, `id = $1`, id)
}

func (s *PostgresStore) queryOne(ctx context.Context, op, where string, arg any) (Account, error) {
	if s == nil || s.pool == nil {
		return Account{}, invalid(op, "nil store")
	}

	var a Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, email_norm, password_hash, role, organization_id, created_at
		   FROM `+pgIdent(s.schema, "accounts")+`
		  WHERE `+where,
		arg,
	).Scan(&a.ID, &a.Email, &a.EmailNorm, &a.PasswordHash, &a.Role, &a.OrganizationID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_accounts_email_norm", strings.Contains(c, "email"):
		return "email", true
	case strings.HasSuffix(c, "_pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
