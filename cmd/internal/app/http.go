package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mes/cmd/identity"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/httpx"
)

// routes builds the full handler tree.
//
// Probes, /metrics and /ws hang off the root router. Everything else lives on
// an API sub-router mounted at "/" so CORS (including preflight) and the
// per-IP rate limit only apply to the REST surface; /ws has its own origin
// policy and per-connection limits.
func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if a.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(WithSecurityHeaders)
	r.Use(WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", a.ws)

	api := chi.NewRouter()
	api.Use(func(next http.Handler) http.Handler { return WithCORS(next, a.cfg, a.log) })
	if a.cfg.HTTPRateLimit > 0 {
		api.Use(httprate.LimitByIP(a.cfg.HTTPRateLimit, a.cfg.HTTPRateWindow))
	}
	api.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found")
	})
	api.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	a.auth.Register(api)
	a.plant.Register(api, a.sessions.Middleware)
	api.Group(func(r chi.Router) {
		r.Use(a.sessions.Middleware)
		r.Use(session.RequireRole(identity.RoleAdmin))
		r.Get("/realtime/stats", a.handleRealtimeStats)
	})

	r.Mount("/", api)

	return WithRequestID(WithRequestLogging(r, a.log))
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if !a.hub.Attached() {
		http.Error(w, "realtime not attached", http.StatusServiceUnavailable)
		return
	}
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}

	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.db.not_ready", "err", err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

func (a *App) handleRealtimeStats(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, a.hub.Stats())
}
