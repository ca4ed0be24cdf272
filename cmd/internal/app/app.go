// Package app wires the MES server runtime: config, logging, storage, HTTP routes
// and the realtime gateway.
//
// The revocation registry and the subscription registry are built exactly once
// here and handed to every collaborator; nothing else constructs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mes/cmd/identity"
	authapi "mes/cmd/internal/auth/api"
	"mes/cmd/internal/auth/revocation"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/invite"
	"mes/cmd/internal/observability/metrics"
	"mes/cmd/internal/plant"
	"mes/cmd/internal/realtime"
	"mes/cmd/security/password"
	"mes/cmd/security/token"
)

// App is the MES server runtime.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool

	revocations *revocation.Registry
	hub         *realtime.Registry
	ws          *realtime.WSGateway

	sessions   *session.Service
	auth       *authapi.Handler
	plant      *plant.Handler
	trustProxy bool
}

// New constructs a fully wired App from config. A nil log gets the configured default.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if err := ValidateSecurityConfig(cfg, sessCfg); err != nil {
		return nil, err
	}
	passwords, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}

	codes, err := token.HasherFromEnv(cfg.RequireStrongSecret)
	if err != nil {
		return nil, fmt.Errorf("security policy: %s: %w", token.HMACEnvKey, err)
	}
	if !codes.Keyed() {
		log.Warn("security.invite_codes.unkeyed", "hint", "set "+token.HMACEnvKey)
	}

	a := &App{cfg: cfg, log: log}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	invites, err := invite.NewService(st.invites, invite.WithHasher(codes))
	if err != nil {
		a.closePool()
		return nil, err
	}

	a.revocations = revocation.New(revocation.WithLogger(log))

	tokens, err := session.NewJWTManager(sessCfg)
	if err != nil {
		a.closePool()
		return nil, err
	}
	a.sessions = session.NewService(tokens, a.revocations, session.WithLogger(log))

	authCfg := authapi.LoadConfigFromEnv()
	a.trustProxy = authCfg.TrustProxy
	a.auth, err = authapi.NewHandler(log, st.accounts, a.sessions, passwords, authCfg, authapi.WithInvites(invites))
	if err != nil {
		a.closePool()
		return nil, err
	}

	a.hub = realtime.NewRegistry(log)
	a.ws = realtime.NewWSGateway(log, a.hub, realtime.LoadGatewayConfigFromEnv(), a.sessions)

	a.plant, err = plant.NewHandler(log, st.plants, realtime.NewNotifier(a.hub))
	if err != nil {
		a.closePool()
		return nil, err
	}

	if err := bootstrapAdmin(ctx, log, st.accounts, passwords, cfg); err != nil {
		a.closePool()
		return nil, err
	}

	metrics.MustRegister()
	return a, nil
}

type stores struct {
	accounts identity.Store
	plants   plant.Store
	invites  invite.Store
}

// openStores picks Postgres when MES_DATABASE_URL is set and in-memory stores otherwise.
func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return stores{
			accounts: identity.NewInMemoryStore(),
			plants:   plant.NewInMemoryStore(),
			invites:  invite.NewInMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return stores{}, err
	}
	a.pool = pool

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closePool()
		return stores{}, err
	}
	plants, err := plant.NewPostgresStore(pool, plant.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closePool()
		return stores{}, err
	}
	invites, err := invite.NewPostgresStore(pool, invite.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closePool()
		return stores{}, fmt.Errorf("invite store: %w", err)
	}

	if a.cfg.DBAutoMigrate {
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		steps := []struct {
			name   string
			ensure func(context.Context) error
		}{
			{"accounts", accounts.EnsureSchema},
			{"plant", plants.EnsureSchema},
			{"invites", invites.EnsureSchema},
		}
		for _, step := range steps {
			if err := step.ensure(mctx); err != nil {
				a.closePool()
				return stores{}, fmt.Errorf("db: ensure %s schema: %w", step.name, err)
			}
		}
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema, "auto_migrate", a.cfg.DBAutoMigrate)
	return stores{accounts: accounts, plants: plants, invites: invites}, nil
}

func (a *App) closePool() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.routes()
}

// Run starts the revocation sweeper and the HTTP server and blocks until ctx
// is cancelled or the server fails. The sweeper stops with the server.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	runCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeperDone := a.revocations.Start(runCtx, a.cfg.RevocationSweepInterval)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	stopSweeper()
	<-sweeperDone

	a.closePool()

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
