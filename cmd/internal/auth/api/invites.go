package authapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mes/cmd/identity"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/httpx"
	"mes/cmd/internal/invite"
	"mes/cmd/internal/observability/metrics"
)

// Supervisors enroll floor staff for their own organization only.
var supervisorInvitableRoles = map[string]bool{
	identity.RoleOperator: true,
	identity.RoleViewer:   true,
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	var req inviteCreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	role := identity.NormalizeRole(req.Role)
	orgID := strings.TrimSpace(req.OrganizationID)
	if claims.Role != identity.RoleAdmin {
		if !supervisorInvitableRoles[role] {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "role cannot be invited by a supervisor")
			return
		}
		if claims.OrganizationID != "" {
			if orgID != "" && orgID != claims.OrganizationID {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "organization mismatch")
				return
			}
			orgID = claims.OrganizationID
		}
	} else if orgID == "" {
		orgID = claims.OrganizationID
	}

	ttl := h.cfg.InviteTTL
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	if ttl > h.cfg.InviteMaxTTL {
		ttl = h.cfg.InviteMaxTTL
	}
	maxUses := h.cfg.InviteMaxUses
	if req.MaxUses > 0 {
		maxUses = req.MaxUses
	}
	if maxUses > h.cfg.InviteMaxUsesMax {
		maxUses = h.cfg.InviteMaxUsesMax
	}

	ctx := r.Context()
	createdBy := claims.AccountID
	inv, code, err := h.invites.CreateInvite(ctx, invite.CreateInput{
		Role:           role,
		OrganizationID: orgID,
		CreatedBy:      &createdBy,
		TTL:            ttl,
		MaxUses:        maxUses,
		Note:           req.Note,
		Now:            h.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, invite.ErrInvalidInput) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid invite")
			return
		}
		h.log.Error("auth.invite.create.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditInviteCreated(ctx, claims.AccountID, inv.ID, inv.Role, inv.OrganizationID, clientIP(r, h.cfg.TrustProxy))
	httpx.WriteJSON(w, http.StatusCreated, inviteCreateResponse{
		Invite: toInviteResponse(inv),
		Code:   code,
	})
}

func (h *Handler) handleInviteRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	inviteID := strings.TrimSpace(chi.URLParam(r, "inviteID"))

	inv, err := h.invites.InviteByID(ctx, inviteID)
	if err != nil {
		h.writeInviteLookupError(w, err)
		return
	}
	if claims.Role != identity.RoleAdmin && claims.OrganizationID != "" && inv.OrganizationID != claims.OrganizationID {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "organization mismatch")
		return
	}

	inv, err = h.invites.RevokeInvite(ctx, inviteID, h.now().UTC())
	if err != nil {
		h.writeInviteLookupError(w, err)
		return
	}

	h.auditInviteRevoked(ctx, claims.AccountID, inv.ID, clientIP(r, h.cfg.TrustProxy))
	httpx.WriteJSON(w, http.StatusOK, toInviteResponse(inv))
}

// handleRegister redeems an invite code into a new account and signs it in.
// The invite use is spent before the account is written, so a single-use code
// can never produce two accounts.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	email := identity.NormalizeEmail(req.Email)

	if blocked, retryAfter := h.checkLoginIPThrottle(ip, now); blocked {
		metrics.AuthRegistrationsTotal.WithLabelValues("rate_limited").Inc()
		writeRateLimited(w, retryAfter)
		return
	}

	if err := h.passwords.Validate(req.Password); err != nil {
		metrics.AuthRegistrationsTotal.WithLabelValues("rejected").Inc()
		httpx.WriteError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	active, _, err := h.invites.ValidateInvite(ctx, req.Code, now)
	if err != nil && !errors.Is(err, invite.ErrInvalidInput) {
		h.log.Error("auth.register.invite_lookup.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !active {
		h.registerInviteRejected(w, ip, now)
		return
	}

	switch _, err := h.accounts.AccountByEmail(ctx, email); {
	case err == nil:
		metrics.AuthRegistrationsTotal.WithLabelValues("conflict").Inc()
		httpx.WriteError(w, http.StatusConflict, "conflict", "email already registered")
		return
	case !identity.IsNotFound(err):
		h.log.Error("auth.register.lookup.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.register.hash.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	inv, err := h.invites.ConsumeInvite(ctx, invite.ConsumeInput{Code: req.Code, ConsumedBy: email, Now: now})
	if err != nil {
		if errors.Is(err, invite.ErrNotActive) || errors.Is(err, invite.ErrNotFound) {
			h.registerInviteRejected(w, ip, now)
			return
		}
		h.log.Error("auth.register.consume.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	acc, err := h.accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Email:          req.Email,
		PasswordHash:   hash,
		Role:           inv.Role,
		OrganizationID: inv.OrganizationID,
		Now:            now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			h.log.Warn("auth.register.conflict_after_consume", "invite_id", inv.ID)
			metrics.AuthRegistrationsTotal.WithLabelValues("conflict").Inc()
			httpx.WriteError(w, http.StatusConflict, "conflict", "email already registered")
			return
		}
		h.log.Error("auth.register.create.fail", "invite_id", inv.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	token, claims, err := h.sessions.IssueAccessToken(session.Principal{
		AccountID:      acc.ID,
		Role:           acc.Role,
		OrganizationID: acc.OrganizationID,
	}, now)
	if err != nil {
		h.log.Error("auth.register.issue_token.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditInviteConsumed(ctx, acc.ID, inv.ID, ip)
	metrics.AuthRegistrationsTotal.WithLabelValues("success").Inc()
	httpx.WriteJSON(w, http.StatusCreated, loginResponse{
		Account: toAccountResponse(acc),
		Token:   toTokenResponse(token, claims),
	})
}

// registerInviteRejected counts a bad code against the caller's IP like a failed login.
func (h *Handler) registerInviteRejected(w http.ResponseWriter, ip string, now time.Time) {
	h.throttle.recordFailure(ip, "", now)
	metrics.AuthRegistrationsTotal.WithLabelValues("invalid_invite").Inc()
	httpx.WriteError(w, http.StatusBadRequest, "invalid_invite", "invalid or expired invite")
}

func (h *Handler) writeInviteLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invite.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "invite not found")
	case errors.Is(err, invite.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid invite id")
	default:
		h.log.Error("auth.invite.lookup.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// normalizer is implemented by requests whose fields are cleaned up before
// validation.
type normalizer interface {
	normalize()
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		if httpx.IsBodyTooLarge(err) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if msg, ok := httpx.Validate(h.validate, dst); !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", msg)
		return false
	}
	return true
}
