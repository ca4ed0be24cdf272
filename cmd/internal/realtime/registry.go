package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"mes/cmd/internal/observability/metrics"
)

// Registry is the set of open connections and their subscriptions.
//
// One Registry is constructed per process and shared by the gateway (which
// feeds it connection events) and the Notifier (which broadcasts through it).
// All methods are safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	attached atomic.Bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log,
		clients: make(map[*Client]struct{}),
	}
}

// Attach marks the registry as served by a transport. Broadcasts before
// Attach are dropped with a warning.
func (r *Registry) Attach() {
	if r == nil {
		return
	}
	r.attached.Store(true)
}

// Attached reports whether a transport has attached.
func (r *Registry) Attached() bool {
	return r != nil && r.attached.Load()
}

// OnOpen registers c with no subscription.
func (r *Registry) OnOpen(c *Client) {
	if r == nil || c == nil {
		return
	}

	r.mu.Lock()
	c.kind, c.target = KindUnset, ""
	r.clients[c] = struct{}{}
	n := len(r.clients)
	r.mu.Unlock()

	metrics.WSConnections.Set(float64(n))
	r.log.Info("ws.open", "client_id", c.ID, "remote", c.RemoteAddr, "connections", n)
}

// OnMessage applies a subscription message from c. Malformed or
// unrecognized messages are logged and ignored; the latest valid one wins.
func (r *Registry) OnMessage(c *Client, raw []byte) {
	if r == nil || c == nil {
		return
	}

	kind, target, err := parseSubscription(raw)
	if err != nil {
		var unrec errUnrecognized
		if errors.As(err, &unrec) {
			r.log.Debug("ws.subscribe.ignored", "client_id", c.ID, "reason", unrec.reason)
			return
		}
		r.log.Warn("ws.subscribe.bad_json", "client_id", c.ID, "err", err, "bytes", len(raw))
		return
	}

	r.mu.Lock()
	_, open := r.clients[c]
	if open {
		c.kind, c.target = kind, target
	}
	r.mu.Unlock()

	if !open {
		return
	}
	r.log.Info("ws.subscribe", "client_id", c.ID, "kind", kind.String(), "target", target)
}

// OnClose deregisters c and closes it. Safe to call more than once.
func (r *Registry) OnClose(c *Client) {
	if r == nil || c == nil {
		return
	}

	r.mu.Lock()
	_, open := r.clients[c]
	delete(r.clients, c)
	n := len(r.clients)
	r.mu.Unlock()

	c.Close()

	if !open {
		return
	}
	metrics.WSConnections.Set(float64(n))
	r.log.Info("ws.close", "client_id", c.ID, "connections", n)
}

// OnError logs err and deregisters c.
func (r *Registry) OnError(c *Client, err error) {
	if r == nil || c == nil {
		return
	}
	r.log.Info("ws.error", "client_id", c.ID, "err", err)
	r.OnClose(c)
}

// Broadcast queues payload for every open client subscribed to (kind, target)
// and returns how many clients it was queued for.
//
// The payload is marshalled once. Matching clients are snapshotted under the
// read lock and delivered to after it is released; a full or closed queue
// drops the frame for that client.
func (r *Registry) Broadcast(kind Kind, target string, payload any) int {
	if r == nil {
		slog.Default().Warn("ws.broadcast.no_registry", "kind", kind.String(), "target", target)
		return 0
	}
	if !r.attached.Load() {
		r.log.Warn("ws.broadcast.not_attached", "kind", kind.String(), "target", target)
		return 0
	}

	target = normalizeTarget(target)
	if kind == KindUnset || target == "" {
		return 0
	}

	frame, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("ws.broadcast.marshal.fail", "kind", kind.String(), "target", target, "err", err)
		return 0
	}

	r.mu.RLock()
	var matched []*Client
	for c := range r.clients {
		if c.kind == kind && c.target == target {
			matched = append(matched, c)
		}
	}
	r.mu.RUnlock()

	queued, dropped := 0, 0
	for _, c := range matched {
		if c.enqueue(frame) {
			queued++
			continue
		}
		dropped++
		r.log.Debug("ws.broadcast.drop", "client_id", c.ID, "kind", kind.String(), "target", target)
	}

	if queued > 0 {
		metrics.BroadcastDeliveriesTotal.WithLabelValues(kind.String(), "queued").Add(float64(queued))
	}
	if dropped > 0 {
		metrics.BroadcastDeliveriesTotal.WithLabelValues(kind.String(), "dropped").Add(float64(dropped))
	}

	return queued
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Stats is a point-in-time view of the connection set. Subscriptions counts
// open clients per kind; clients that have not subscribed yet are only in
// Connections.
type Stats struct {
	Attached      bool           `json:"attached"`
	Connections   int            `json:"connections"`
	Subscriptions map[string]int `json:"subscriptions"`
}

// Stats snapshots the registry.
func (r *Registry) Stats() Stats {
	st := Stats{Subscriptions: map[string]int{
		KindSensor.String():           0,
		KindWorkOrderNew.String():     0,
		KindWorkOrderAdvance.String(): 0,
	}}
	if r == nil {
		return st
	}
	st.Attached = r.Attached()

	r.mu.RLock()
	defer r.mu.RUnlock()

	st.Connections = len(r.clients)
	for c := range r.clients {
		if c.kind != KindUnset {
			st.Subscriptions[c.kind.String()]++
		}
	}
	return st
}

// subscribers returns how many open clients are subscribed to (kind, target).
func (r *Registry) subscribers(kind Kind, target string) int {
	if r == nil {
		return 0
	}
	target = normalizeTarget(target)

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for c := range r.clients {
		if c.kind == kind && c.target == target {
			n++
		}
	}
	return n
}

// subscription returns c's current subscription.
func (r *Registry) subscription(c *Client) (Kind, string) {
	if r == nil || c == nil {
		return KindUnset, ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.kind, c.target
}
