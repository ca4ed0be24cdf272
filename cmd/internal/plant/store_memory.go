package plant

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxReadingsPerSensor bounds the in-memory history per sensor.
const maxReadingsPerSensor = 1000

// InMemoryStore is a process-local Store used when no database is configured.
type InMemoryStore struct {
	mu         sync.RWMutex
	readings   map[string][]Reading // oldest first
	workOrders map[string]WorkOrder
	byOrg      map[string][]string // ids in insertion order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		readings:   make(map[string][]Reading),
		workOrders: make(map[string]WorkOrder),
		byOrg:      make(map[string][]string),
	}
}

func (s *InMemoryStore) AppendReading(ctx context.Context, r Reading) error {
	const op = "plant.AppendReading"
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := checkReading(op, r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.readings[r.SensorID], r)
	if len(list) > maxReadingsPerSensor {
		list = append([]Reading(nil), list[len(list)-maxReadingsPerSensor:]...)
	}
	s.readings[r.SensorID] = list
	return nil
}

func (s *InMemoryStore) LatestReadings(ctx context.Context, sensorID string, limit int) ([]Reading, error) {
	const op = "plant.LatestReadings"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sensorID = strings.TrimSpace(sensorID)
	if !validID(sensorID) {
		return nil, invalid(op, "sensor id is required")
	}
	limit = clampLimit(limit)

	s.mu.RLock()
	list := append([]Reading(nil), s.readings[sensorID]...)
	s.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool { return list[i].Time.After(list[j].Time) })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *InMemoryStore) CreateWorkOrders(ctx context.Context, organizationID string, batch []NewWorkOrder, now time.Time) ([]WorkOrder, error) {
	const op = "plant.CreateWorkOrders"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := buildWorkOrders(op, organizationID, batch, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	org := out[0].OrganizationID
	for _, id := range s.byOrg[org] {
		existing := s.workOrders[id].Number
		for _, wo := range out {
			if wo.Number == existing {
				return nil, conflict(op, "number "+wo.Number+" already exists")
			}
		}
	}
	for _, wo := range out {
		s.workOrders[wo.ID] = wo
		s.byOrg[org] = append(s.byOrg[org], wo.ID)
	}
	return out, nil
}

func (s *InMemoryStore) ListWorkOrders(ctx context.Context, organizationID string) ([]WorkOrder, error) {
	const op = "plant.ListWorkOrders"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	organizationID = strings.TrimSpace(organizationID)
	if !validID(organizationID) {
		return nil, invalid(op, "organization id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOrg[organizationID]
	out := make([]WorkOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.workOrders[id])
	}
	return out, nil
}

func (s *InMemoryStore) WorkOrder(ctx context.Context, id string) (WorkOrder, error) {
	const op = "plant.WorkOrder"
	if err := ctx.Err(); err != nil {
		return WorkOrder{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	wo, ok := s.workOrders[strings.TrimSpace(id)]
	if !ok {
		return WorkOrder{}, notFound(op, "work order")
	}
	return wo, nil
}

func (s *InMemoryStore) AdvanceWorkOrder(ctx context.Context, in AdvanceInput) (WorkOrder, error) {
	const op = "plant.AdvanceWorkOrder"
	if err := ctx.Err(); err != nil {
		return WorkOrder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.workOrders[strings.TrimSpace(in.WorkOrderID)]
	if !ok {
		return WorkOrder{}, notFound(op, "work order")
	}
	next, err := applyAdvance(op, wo, in)
	if err != nil {
		return WorkOrder{}, err
	}
	s.workOrders[next.ID] = next
	return next, nil
}
