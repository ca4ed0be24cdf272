package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"mes/cmd/identity"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/httpx"
	"mes/cmd/internal/invite"
	"mes/cmd/internal/observability/metrics"
	"mes/cmd/security/password"
)

// Handler wires HTTP auth endpoints to the account store and session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	accounts  identity.Store
	sessions  *session.Service
	passwords password.Config
	invites   *invite.Service

	validate *validator.Validate
	throttle *loginThrottle
	now      func() time.Time

	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the handler clock. Tests only.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithInvites enables enrollment invites and POST /auth/register.
func WithInvites(svc *invite.Service) HandlerOption {
	return func(h *Handler) {
		h.invites = svc
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, accounts identity.Store, sessions *session.Service, passwords password.Config, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if accounts == nil {
		return nil, errors.New("auth: nil account store")
	}
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		accounts:  accounts,
		sessions:  sessions,
		passwords: passwords,
		validate:  httpx.NewValidator(),
		throttle:  newLoginThrottle(cfg),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := passwords.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto r.
func (h *Handler) Register(r chi.Router) {
	if h == nil || r == nil {
		return
	}

	r.Post("/auth/login", h.handleLogin)
	if h.invites != nil {
		r.Post("/auth/register", h.handleRegister)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.Middleware)

		r.Post("/auth/logout", h.handleLogout)
		r.Post("/auth/logout_all", h.handleLogoutAll)
		r.Get("/me", h.handleMe)

		if h.invites != nil {
			r.Group(func(r chi.Router) {
				r.Use(session.RequireRole(identity.RoleAdmin, identity.RoleSupervisor))
				r.Post("/auth/invites", h.handleInviteCreate)
				r.Delete("/auth/invites/{inviteID}", h.handleInviteRevoke)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(session.RequireRole(identity.RoleAdmin))
			r.Get("/auth/accounts/{accountID}/revocation", h.handleGetRevocation)
			r.Delete("/auth/accounts/{accountID}/revocation", h.handleClearRevocation)
			r.Get("/auth/revocations/stats", h.handleRevocationStats)
		})
	})
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	identifier := identity.NormalizeEmail(req.Email)

	if blocked, retryAfter := h.checkLoginIPThrottle(ip, now); blocked {
		h.auditLoginRateLimited(ctx, ip, identifier, retryAfter)
		metrics.AuthLoginsTotal.WithLabelValues("rate_limited").Inc()
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := h.checkLoginIdentifierThrottle(identifier, now); blocked {
		h.auditLoginRateLimited(ctx, ip, identifier, retryAfter)
		metrics.AuthLoginsTotal.WithLabelValues("rate_limited").Inc()
		writeRateLimited(w, retryAfter)
		return
	}

	acc, err := h.accounts.AccountByEmail(ctx, identifier)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		// Timing resistance: perform a dummy verify when the account is missing.
		if h.dummyHash != "" {
			_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		}
		h.loginFailed(w, r, "", ip, identifier, "not_found", now)
		return
	}

	okPw, err := h.passwords.Verify(acc.PasswordHash, req.Password)
	if err != nil || !okPw {
		h.loginFailed(w, r, acc.ID, ip, identifier, "bad_password", now)
		return
	}
	if h.passwords.NeedsRehash(acc.PasswordHash) {
		h.log.Info("auth.login.rehash_needed", "account_id", acc.ID)
	}

	token, claims, err := h.sessions.IssueAccessToken(session.Principal{
		AccountID:      acc.ID,
		Role:           acc.Role,
		OrganizationID: acc.OrganizationID,
	}, now)
	if err != nil {
		h.log.Error("auth.login.issue_token.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.throttle.reset(identifier)
	h.auditLoginSuccess(ctx, acc.ID, claims.TokenID, ip)
	metrics.AuthLoginsTotal.WithLabelValues("success").Inc()

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		Account: toAccountResponse(acc),
		Token:   toTokenResponse(token, claims),
	})
}

func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, accountID, ip, identifier, reason string, now time.Time) {
	h.throttle.recordFailure(ip, identifier, now)
	h.auditLoginFailed(r.Context(), accountID, ip, identifier, reason)
	metrics.AuthLoginsTotal.WithLabelValues("failure").Inc()
	httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	h.sessions.RevokeToken(claims, h.now().UTC())
	h.auditLogout(r.Context(), claims.AccountID, claims.TokenID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	h.sessions.RevokeAllUserTokens(claims.AccountID)
	h.auditLogoutAll(r.Context(), claims.AccountID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	acc, err := h.accounts.AccountByID(r.Context(), claims.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			httpx.WriteError(w, http.StatusUnauthorized, "not_found", "account not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Role and organization come from the token, which is what every other route sees.
	resp := toAccountResponse(acc)
	resp.Role = claims.Role
	resp.OrganizationID = claims.OrganizationID

	httpx.WriteJSON(w, http.StatusOK, meResponse{
		Account:   resp,
		TokenID:   claims.TokenID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	})
}

func (h *Handler) handleClearRevocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	accountID := strings.TrimSpace(chi.URLParam(r, "accountID"))
	if accountID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "accountID is required")
		return
	}

	h.sessions.ClearUserRevocation(accountID)
	h.auditRevocationCleared(r.Context(), claims.AccountID, accountID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetRevocation(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(chi.URLParam(r, "accountID"))
	if accountID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "accountID is required")
		return
	}

	ar, ok := h.sessions.AccountRevocation(accountID)
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "no account revocation")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ar)
}

func (h *Handler) handleRevocationStats(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.sessions.Stats())
}

func (h *Handler) requireClaims(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	claims, ok := session.ClaimsFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return session.AccessClaims{}, false
	}
	return claims, true
}
