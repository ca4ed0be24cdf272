package authapi

import (
	"context"
	"log/slog"
	"time"
)

// Audit events go to the structured log under "auth.audit" with a stable action.

func (h *Handler) auditLoginFailed(ctx context.Context, accountID, ip, identifier, reason string) {
	h.audit(ctx, "auth.login.failed", accountID, ip,
		slog.String("identifier", identifier),
		slog.String("reason", reason),
	)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, accountID, tokenID, ip string) {
	h.audit(ctx, "auth.login.success", accountID, ip, slog.String("jti", tokenID))
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip, identifier string, retryAfter time.Duration) {
	h.audit(ctx, "auth.login.rate_limited", "", ip,
		slog.String("identifier", identifier),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}

func (h *Handler) auditLogout(ctx context.Context, accountID, tokenID, ip string) {
	h.audit(ctx, "auth.logout", accountID, ip, slog.String("jti", tokenID))
}

func (h *Handler) auditLogoutAll(ctx context.Context, accountID, ip string) {
	h.audit(ctx, "auth.logout_all", accountID, ip)
}

func (h *Handler) auditRevocationCleared(ctx context.Context, adminID, accountID, ip string) {
	h.audit(ctx, "auth.revocation.cleared", adminID, ip, slog.String("target_account_id", accountID))
}

func (h *Handler) auditInviteCreated(ctx context.Context, accountID, inviteID, role, orgID, ip string) {
	h.audit(ctx, "auth.invite.created", accountID, ip,
		slog.String("invite_id", inviteID),
		slog.String("invite_role", role),
		slog.String("organization_id", orgID),
	)
}

func (h *Handler) auditInviteRevoked(ctx context.Context, accountID, inviteID, ip string) {
	h.audit(ctx, "auth.invite.revoked", accountID, ip, slog.String("invite_id", inviteID))
}

func (h *Handler) auditInviteConsumed(ctx context.Context, accountID, inviteID, ip string) {
	h.audit(ctx, "auth.invite.consumed", accountID, ip, slog.String("invite_id", inviteID))
}

func (h *Handler) audit(ctx context.Context, action, accountID, ip string, attrs ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}
	base := []slog.Attr{slog.String("action", action)}
	if accountID != "" {
		base = append(base, slog.String("account_id", accountID))
	}
	if ip != "" {
		base = append(base, slog.String("ip", ip))
	}
	h.log.LogAttrs(ctx, slog.LevelInfo, "auth.audit", append(base, attrs...)...)
}
