package realtime

import (
	v1 "mes/shared/contracts/realtime/v1"
)

// Notifier is how HTTP handlers and other producers push events to subscribers.
type Notifier struct {
	reg *Registry
}

// NewNotifier returns a Notifier broadcasting through reg.
func NewNotifier(reg *Registry) *Notifier {
	return &Notifier{reg: reg}
}

func (n *Notifier) registry() *Registry {
	if n == nil {
		return nil
	}
	return n.reg
}

// NotifySensorData pushes a reading to subscribers of sensorID.
func (n *Notifier) NotifySensorData(sensorID string, reading v1.SensorReading) int {
	return n.registry().Broadcast(KindSensor, sensorID, reading)
}

// NotifyNewWorkOrders pushes payload to newWorkOrders subscribers of organizationID.
// payload is usually a v1.NewWorkOrders.
func (n *Notifier) NotifyNewWorkOrders(organizationID string, payload any) int {
	return n.registry().Broadcast(KindWorkOrderNew, organizationID, payload)
}

// NotifyWorkOrdersAdvance pushes an advance to workOrdersAdvance subscribers of organizationID.
func (n *Notifier) NotifyWorkOrdersAdvance(organizationID string, advance v1.WorkOrderAdvance) int {
	return n.registry().Broadcast(KindWorkOrderAdvance, organizationID, advance)
}
