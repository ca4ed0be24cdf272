package plant

import (
	"context"
	"strings"
	"time"

	"mes/cmd/identity/ids"
)

const (
	DefaultReadingsLimit = 50
	MaxReadingsLimit     = 500

	maxIDLen     = 128
	maxBatchSize = 100
)

// Store is the plant persistence boundary.
type Store interface {
	AppendReading(ctx context.Context, r Reading) error
	// LatestReadings returns up to limit readings for sensorID, newest first.
	LatestReadings(ctx context.Context, sensorID string, limit int) ([]Reading, error)

	// CreateWorkOrders inserts the batch atomically.
	CreateWorkOrders(ctx context.Context, organizationID string, batch []NewWorkOrder, now time.Time) ([]WorkOrder, error)
	// ListWorkOrders returns the organization's work orders, oldest first.
	ListWorkOrders(ctx context.Context, organizationID string) ([]WorkOrder, error)
	WorkOrder(ctx context.Context, id string) (WorkOrder, error)
	AdvanceWorkOrder(ctx context.Context, in AdvanceInput) (WorkOrder, error)
}

func validID(s string) bool {
	return s != "" && len(s) <= maxIDLen
}

func checkReading(op string, r Reading) (Reading, error) {
	r.SensorID = strings.TrimSpace(r.SensorID)
	if !validID(r.SensorID) {
		return Reading{}, invalid(op, "sensor id is required")
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	r.Time = r.Time.UTC()
	return r, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultReadingsLimit
	case limit > MaxReadingsLimit:
		return MaxReadingsLimit
	default:
		return limit
	}
}

// buildWorkOrders validates a create batch and assigns ids.
func buildWorkOrders(op, organizationID string, batch []NewWorkOrder, now time.Time) ([]WorkOrder, error) {
	organizationID = strings.TrimSpace(organizationID)
	if !validID(organizationID) {
		return nil, invalid(op, "organization id is required")
	}
	if len(batch) == 0 || len(batch) > maxBatchSize {
		return nil, invalid(op, "batch must hold 1..100 work orders")
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	seen := make(map[string]struct{}, len(batch))
	out := make([]WorkOrder, 0, len(batch))
	for _, in := range batch {
		number := strings.TrimSpace(in.Number)
		if !validID(number) {
			return nil, invalid(op, "work order number is required")
		}
		if in.Quantity <= 0 {
			return nil, invalid(op, "quantity must be positive")
		}
		if _, dup := seen[number]; dup {
			return nil, conflict(op, "duplicate number "+number)
		}
		seen[number] = struct{}{}

		id, err := ids.NewULID(now)
		if err != nil {
			return nil, err
		}
		var exec *time.Time
		if in.ExecutionDate != nil {
			t := in.ExecutionDate.UTC()
			exec = &t
		}
		out = append(out, WorkOrder{
			ID:             id,
			OrganizationID: organizationID,
			Number:         number,
			Quantity:       in.Quantity,
			Status:         StatusPending,
			ExecutionDate:  exec,
			CreatedAt:      now,
		})
	}
	return out, nil
}

// applyAdvance returns wo moved forward by in. Completed quantity never
// decreases and never exceeds the order quantity; reaching the quantity
// completes the order. The execution date is stamped on the first move out
// of pending.
func applyAdvance(op string, wo WorkOrder, in AdvanceInput) (WorkOrder, error) {
	if in.CompletedQuantity < wo.CompletedQuantity {
		return WorkOrder{}, invalid(op, "completed quantity cannot decrease")
	}
	if in.CompletedQuantity > wo.Quantity {
		return WorkOrder{}, invalid(op, "completed quantity exceeds quantity")
	}
	if wo.Status == StatusCompleted {
		return WorkOrder{}, conflict(op, "work order already completed")
	}

	status := strings.TrimSpace(in.Status)
	switch status {
	case "":
		switch {
		case in.CompletedQuantity >= wo.Quantity:
			status = StatusCompleted
		case in.CompletedQuantity > 0:
			status = StatusInProgress
		default:
			status = wo.Status
		}
	case StatusPending:
		if in.CompletedQuantity > 0 {
			return WorkOrder{}, invalid(op, "pending work order cannot have completed quantity")
		}
	case StatusInProgress, StatusCompleted:
	default:
		return WorkOrder{}, invalid(op, "unknown status "+status)
	}
	if in.CompletedQuantity >= wo.Quantity {
		status = StatusCompleted
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	wo.CompletedQuantity = in.CompletedQuantity
	wo.Status = status
	if wo.ExecutionDate == nil && status != StatusPending {
		t := now.UTC()
		wo.ExecutionDate = &t
	}
	return wo, nil
}
