package plant

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

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Multi-row writes run in one transaction; AdvanceWorkOrder locks the row
// with SELECT ... FOR UPDATE before applying the change.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "mes").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("plant: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("plant: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
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
		return nil, fmt.Errorf("plant: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the plant tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	readings := s.ident("sensor_readings")
	workOrders := s.ident("work_orders")

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  sensor_id TEXT NOT NULL,
  value DOUBLE PRECISION NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor_time
  ON %s (sensor_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  number TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  completed_quantity INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  execution_date TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_work_orders_org_number UNIQUE (organization_id, number),
  CONSTRAINT chk_work_orders_quantity CHECK (quantity > 0),
  CONSTRAINT chk_work_orders_completed CHECK (completed_quantity BETWEEN 0 AND quantity),
  CONSTRAINT chk_work_orders_status CHECK (status IN ('pending', 'in_progress', 'completed'))
);

CREATE INDEX IF NOT EXISTS idx_work_orders_org
  ON %s (organization_id, created_at);
`, pgx.Identifier{s.schema}.Sanitize(), readings, readings, workOrders, workOrders))
	return err
}

func (s *PostgresStore) AppendReading(ctx context.Context, r Reading) error {
	const op = "plant.AppendReading"

	r, err := checkReading(op, r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("sensor_readings")+` (sensor_id, value, recorded_at) VALUES ($1, $2, $3)`,
		r.SensorID, r.Value, r.Time,
	)
	return err
}

func (s *PostgresStore) LatestReadings(ctx context.Context, sensorID string, limit int) ([]Reading, error) {
	const op = "plant.LatestReadings"

	sensorID = strings.TrimSpace(sensorID)
	if !validID(sensorID) {
		return nil, invalid(op, "sensor id is required")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT sensor_id, value, recorded_at
		   FROM `+s.ident("sensor_readings")+`
		  WHERE sensor_id = $1
		  ORDER BY recorded_at DESC, id DESC
		  LIMIT $2`,
		sensorID, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Reading, 0)
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.SensorID, &r.Value, &r.Time); err != nil {
			return nil, err
		}
		r.Time = r.Time.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateWorkOrders(ctx context.Context, organizationID string, batch []NewWorkOrder, now time.Time) ([]WorkOrder, error) {
	const op = "plant.CreateWorkOrders"

	out, err := buildWorkOrders(op, organizationID, batch, now)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	table := s.ident("work_orders")
	for _, wo := range out {
		_, err := tx.Exec(ctx,
			`INSERT INTO `+table+` (
			     id, organization_id, number, quantity, completed_quantity, status, execution_date, created_at
			   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			wo.ID, wo.OrganizationID, wo.Number, wo.Quantity, wo.CompletedQuantity, wo.Status, wo.ExecutionDate, wo.CreatedAt,
		)
		if err != nil {
			if pgIsUniqueViolation(err) {
				return nil, conflict(op, "number "+wo.Number+" already exists")
			}
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListWorkOrders(ctx context.Context, organizationID string) ([]WorkOrder, error) {
	const op = "plant.ListWorkOrders"

	organizationID = strings.TrimSpace(organizationID)
	if !validID(organizationID) {
		return nil, invalid(op, "organization id is required")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+workOrderColumns+`
		   FROM `+s.ident("work_orders")+`
		  WHERE organization_id = $1
		  ORDER BY created_at, id`,
		organizationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]WorkOrder, 0)
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WorkOrder(ctx context.Context, id string) (WorkOrder, error) {
	const op = "plant.WorkOrder"

	wo, err := scanWorkOrder(s.pool.QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM `+s.ident("work_orders")+` WHERE id = $1`,
		strings.TrimSpace(id),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkOrder{}, notFound(op, "work order")
	}
	return wo, err
}

func (s *PostgresStore) AdvanceWorkOrder(ctx context.Context, in AdvanceInput) (WorkOrder, error) {
	const op = "plant.AdvanceWorkOrder"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return WorkOrder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	table := s.ident("work_orders")

	wo, err := scanWorkOrder(tx.QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM `+table+` WHERE id = $1 FOR UPDATE`,
		strings.TrimSpace(in.WorkOrderID),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkOrder{}, notFound(op, "work order")
	}
	if err != nil {
		return WorkOrder{}, err
	}

	next, err := applyAdvance(op, wo, in)
	if err != nil {
		return WorkOrder{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+table+`
		    SET completed_quantity = $2, status = $3, execution_date = $4
		  WHERE id = $1`,
		next.ID, next.CompletedQuantity, next.Status, next.ExecutionDate,
	); err != nil {
		return WorkOrder{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return WorkOrder{}, err
	}
	return next, nil
}

const workOrderColumns = `id, organization_id, number, quantity, completed_quantity, status, execution_date, created_at`

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var wo WorkOrder
	err := row.Scan(&wo.ID, &wo.OrganizationID, &wo.Number, &wo.Quantity, &wo.CompletedQuantity, &wo.Status, &wo.ExecutionDate, &wo.CreatedAt)
	if err != nil {
		return WorkOrder{}, err
	}
	wo.CreatedAt = wo.CreatedAt.UTC()
	if wo.ExecutionDate != nil {
		t := wo.ExecutionDate.UTC()
		wo.ExecutionDate = &t
	}
	return wo, nil
}

func (s *PostgresStore) ident(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
