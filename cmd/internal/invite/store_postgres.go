package invite

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists invites in PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default: "mes").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "mes"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the invites table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL(s.schema))
	return err
}

func schemaSQL(schema string) string {
	invites := pgIdent(schema, "invites")
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  token_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  organization_id TEXT NOT NULL DEFAULT '',
  created_by TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  max_uses INT NOT NULL,
  used_count INT NOT NULL DEFAULT 0,
  revoked_at TIMESTAMPTZ NULL,
  note TEXT NULL,
  consumed_at TIMESTAMPTZ NULL,
  consumed_by TEXT NULL,

  CONSTRAINT uq_invites_token_hash UNIQUE (token_hash),
  CONSTRAINT chk_invites_uses CHECK (max_uses > 0 AND used_count >= 0 AND used_count <= max_uses),
  CONSTRAINT chk_invites_expiry CHECK (expires_at > created_at),
  CONSTRAINT chk_invites_role CHECK (role IN ('admin', 'supervisor', 'operator', 'viewer'))
);
`, pgx.Identifier{schema}.Sanitize(), invites)
}

const inviteColumns = `id, role, organization_id, created_by, created_at, expires_at, max_uses, used_count, revoked_at, note, consumed_at, consumed_by`

// Create inserts a new invite record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if err := checkCreate(in); err != nil {
		return Invite{}, err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "invites")+` (
		     id, token_hash, role, organization_id, created_by, created_at, expires_at, max_uses, note
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.ID,
		in.TokenHash,
		in.Role,
		in.OrganizationID,
		in.CreatedBy,
		in.CreatedAt,
		in.ExpiresAt,
		in.MaxUses,
		in.Note,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Invite{}, ErrInvalidInput
		}
		return Invite{}, err
	}
	return in.invite(), nil
}

// GetByID fetches an invite by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Invite, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Invite{}, ErrInvalidInput
	}
	return s.queryOne(ctx, "id", id)
}

// GetByTokenHash fetches an invite by code hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}
	return s.queryOne(ctx, "token_hash", tokenHash)
}

// Consume increments used_count in a single guarded UPDATE.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	out, err := scanInvite(s.pool.QueryRow(ctx,
		`UPDATE `+pgIdent(s.schema, "invites")+`
		    SET used_count = used_count + 1,
		        consumed_at = $1,
		        consumed_by = $2
		  WHERE token_hash = $3
		    AND revoked_at IS NULL
		    AND expires_at > $1
		    AND used_count < max_uses
		RETURNING `+inviteColumns,
		in.Now,
		in.ConsumedBy,
		in.TokenHash,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, err
	}

	// Distinguish not-found vs not-active.
	if _, selErr := s.GetByTokenHash(ctx, in.TokenHash); selErr != nil {
		return Invite{}, selErr
	}
	return Invite{}, ErrNotActive
}

// Revoke sets revoked_at once; later calls return the row unchanged.
func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Invite{}, ErrInvalidInput
	}

	out, err := scanInvite(s.pool.QueryRow(ctx,
		`UPDATE `+pgIdent(s.schema, "invites")+`
		    SET revoked_at = COALESCE(revoked_at, $2)
		  WHERE id = $1
		RETURNING `+inviteColumns,
		id,
		now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	return out, err
}

func (s *PostgresStore) queryOne(ctx context.Context, column, arg string) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}

	out, err := scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+`
		   FROM `+pgIdent(s.schema, "invites")+`
		  WHERE `+pgx.Identifier{column}.Sanitize()+` = $1`,
		arg,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	return out, err
}

func scanInvite(row pgx.Row) (Invite, error) {
	var out Invite
	err := row.Scan(
		&out.ID,
		&out.Role,
		&out.OrganizationID,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.MaxUses,
		&out.UsedCount,
		&out.RevokedAt,
		&out.Note,
		&out.ConsumedAt,
		&out.ConsumedBy,
	)
	return out, err
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
