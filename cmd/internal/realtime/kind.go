package realtime

import (
	"fmt"

	v1 "mes/shared/contracts/realtime/v1"
)

// Kind is what a connection is subscribed to.
type Kind uint8

const (
	KindUnset Kind = iota
	KindSensor
	KindWorkOrderNew
	KindWorkOrderAdvance
)

func (k Kind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindSensor:
		return v1.SubscribeSensor
	case KindWorkOrderNew:
		return v1.SubscribeNewWorkOrders
	case KindWorkOrderAdvance:
		return v1.SubscribeWorkOrdersAdvance
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// errUnrecognized marks a well-formed message that is not a usable subscription.
type errUnrecognized struct{ reason string }

func (e errUnrecognized) Error() string { return "unrecognized subscription: " + e.reason }

// parseSubscription maps an inbound frame to (kind, canonical target).
//
// Malformed JSON returns the decode error. Unknown types, or a known type
// without its target field, return errUnrecognized.
func parseSubscription(raw []byte) (Kind, string, error) {
	msg, err := v1.ParseSubscribe(raw)
	if err != nil {
		return KindUnset, "", err
	}

	var (
		kind  Kind
		field = msg.OrganizationID
	)
	switch msg.Type {
	case "", v1.SubscribeSensor:
		kind, field = KindSensor, msg.SensorID
	case v1.SubscribeNewWorkOrders:
		kind = KindWorkOrderNew
	case v1.SubscribeWorkOrdersAdvance:
		kind = KindWorkOrderAdvance
	default:
		return KindUnset, "", errUnrecognized{reason: "type " + msg.Type}
	}

	target, ok := v1.CanonicalID(field)
	if !ok {
		return KindUnset, "", errUnrecognized{reason: "missing target for " + kind.String()}
	}
	if len(target) > maxTargetLen {
		return KindUnset, "", errUnrecognized{reason: "target too long"}
	}
	return kind, target, nil
}

// normalizeTarget gives caller-supplied targets the same form inbound
// subscriptions get from v1.CanonicalID.
func normalizeTarget(target string) string {
	return v1.CanonicalTarget(target)
}
