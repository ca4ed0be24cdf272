// Package metrics holds the process-wide prometheus collectors.
//
// Collectors are usable before registration (tests never register them);
// MustRegister attaches them to the default registry exactly once at startup.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mes_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mes_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mes_ws_connections",
			Help: "Currently open websocket connections.",
		},
	)

	BroadcastDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mes_broadcast_deliveries_total",
			Help: "Broadcast deliveries per subscription kind and result (queued, dropped).",
		},
		[]string{"kind", "result"},
	)

	RevokedTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mes_revoked_tokens",
			Help: "Individually revoked tokens currently tracked.",
		},
	)

	RevokedAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mes_revoked_accounts",
			Help: "Accounts with an active blanket revocation.",
		},
	)

	RevocationSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mes_revocation_sweeps_total",
			Help: "Completed revocation expiry sweeps.",
		},
	)

	AuthLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mes_auth_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	AuthRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mes_auth_registrations_total",
			Help: "Invite redemptions by result.",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector with the default prometheus registry.
// Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			WSConnections,
			BroadcastDeliveriesTotal,
			RevokedTokens,
			RevokedAccounts,
			RevocationSweepsTotal,
			AuthLoginsTotal,
			AuthRegistrationsTotal,
		)
	})
}
