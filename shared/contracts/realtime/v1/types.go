// Package v1 defines the MES realtime wire contract.
//
// Clients send a single subscription object to choose what they receive;
// the server pushes bare JSON payloads with no envelope. The package is
// shared by the server and the smoke client and stays dependency-light.
package v1

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Subscription discriminators (the "type" field). An absent or empty type
// means a sensor subscription.
const (
	SubscribeSensor            = "sensor"
	SubscribeNewWorkOrders     = "newWorkOrders"
	SubscribeWorkOrdersAdvance = "workOrdersAdvance"
)

// Subscribe is the inbound client message.
//
// Targets are kept raw so both JSON strings and numbers are accepted; use
// CanonicalID to obtain the registry form.
type Subscribe struct {
	Type           string          `json:"type,omitempty"`
	SensorID       json.RawMessage `json:"sensorId,omitempty"`
	OrganizationID json.RawMessage `json:"organizationId,omitempty"`
}

// ParseSubscribe decodes raw into a Subscribe. Unknown fields are ignored.
func ParseSubscribe(raw []byte) (Subscribe, error) {
	var s Subscribe
	if err := json.Unmarshal(raw, &s); err != nil {
		return Subscribe{}, err
	}
	s.Type = strings.TrimSpace(s.Type)
	return s, nil
}

// CanonicalID returns the string form of a JSON id. Strings go through
// CanonicalTarget; integral numbers are printed without exponent or fraction
// (5, "5", 5.0 and "5.0" all yield "5"). Null, empty, booleans, objects and
// arrays report false.
func CanonicalID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = CanonicalTarget(s)
		return s, s != ""

	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return "", false
		}
		return canonicalNumber(n)

	default:
		return "", false
	}
}

var numericID = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// CanonicalTarget is the string-side counterpart of CanonicalID: it trims s
// and gives numeric-looking strings the form their number would have, so
// " 5 ", "5.0" and "5e0" all become "5". Other strings are returned trimmed.
func CanonicalTarget(s string) string {
	s = strings.TrimSpace(s)
	if !numericID.MatchString(s) {
		return s
	}
	if c, ok := canonicalNumber(json.Number(s)); ok {
		return c
	}
	return s
}

func canonicalNumber(n json.Number) (string, bool) {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// IDJSON renders a canonical id the way clients send it: as a number when
// it is an integer, otherwise as a string.
func IDJSON(id string) json.RawMessage {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.RawMessage(id)
	}
	b, _ := json.Marshal(id)
	return b
}

// ---- Outbound payloads ----

// SensorReading is pushed to sensor subscribers.
type SensorReading struct {
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// Work order status values.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// WorkOrderAdvance is pushed to workOrdersAdvance subscribers of the owning organization.
// Field names are PascalCase on the wire.
type WorkOrderAdvance struct {
	WorkOrderID       string     `json:"WorkOrderId"`
	CompletedQuantity int        `json:"CompletedQuantity"`
	Status            string     `json:"Status"`
	ExecutionDate     *time.Time `json:"ExecutionDate"`
	Number            string     `json:"Number"`
	Quantity          int        `json:"Quantity"`
}

// WorkOrder is the listing form of a work order.
type WorkOrder struct {
	ID                string     `json:"id"`
	OrganizationID    string     `json:"organizationId"`
	Number            string     `json:"number"`
	Quantity          int        `json:"quantity"`
	CompletedQuantity int        `json:"completedQuantity"`
	Status            string     `json:"status"`
	ExecutionDate     *time.Time `json:"executionDate,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// NewWorkOrders is pushed to newWorkOrders subscribers of the organization.
type NewWorkOrders struct {
	OrganizationID string      `json:"organizationId"`
	WorkOrders     []WorkOrder `json:"workOrders"`
}
