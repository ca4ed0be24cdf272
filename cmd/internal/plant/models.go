package plant

import (
	"time"

	v1 "mes/shared/contracts/realtime/v1"
)

// Work order states.
const (
	StatusPending    = v1.StatusPending
	StatusInProgress = v1.StatusInProgress
	StatusCompleted  = v1.StatusCompleted
)

// Reading is one sensor sample.
type Reading struct {
	SensorID string
	Value    float64
	Time     time.Time
}

// WorkOrder is a production order owned by an organization.
type WorkOrder struct {
	ID                string
	OrganizationID    string
	Number            string
	Quantity          int
	CompletedQuantity int
	Status            string
	ExecutionDate     *time.Time
	CreatedAt         time.Time
}

// NewWorkOrder is the input for one work order in a create batch.
type NewWorkOrder struct {
	Number        string
	Quantity      int
	ExecutionDate *time.Time
}

// AdvanceInput moves a work order forward.
// An empty Status is derived from CompletedQuantity.
type AdvanceInput struct {
	WorkOrderID       string
	CompletedQuantity int
	Status            string
	Now               time.Time
}

func (r Reading) wire() v1.SensorReading {
	return v1.SensorReading{Value: r.Value, Time: r.Time}
}

func (w WorkOrder) wire() v1.WorkOrder {
	return v1.WorkOrder{
		ID:                w.ID,
		OrganizationID:    w.OrganizationID,
		Number:            w.Number,
		Quantity:          w.Quantity,
		CompletedQuantity: w.CompletedQuantity,
		Status:            w.Status,
		ExecutionDate:     w.ExecutionDate,
		CreatedAt:         w.CreatedAt,
	}
}

func (w WorkOrder) advance() v1.WorkOrderAdvance {
	return v1.WorkOrderAdvance{
		WorkOrderID:       w.ID,
		CompletedQuantity: w.CompletedQuantity,
		Status:            w.Status,
		ExecutionDate:     w.ExecutionDate,
		Number:            w.Number,
		Quantity:          w.Quantity,
	}
}
