// Package realtime pushes MES events to WebSocket subscribers.
//
// Each connection subscribes to at most one (kind, target) pair at a time:
// a sensor id for live readings, or an organization id for new or advancing
// work orders. The Registry owns the connection set; the Notifier is the
// entry point for data-plane callers; WSGateway is the transport.
//
// Delivery is best-effort: a payload is marshalled once, the matching
// clients are snapshotted, and each frame is queued without blocking. A full
// or closed queue drops that frame for that client only.
package realtime
