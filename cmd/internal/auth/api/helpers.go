package authapi

import (
	"net"
	"net/http"
	"strings"

	"mes/cmd/identity"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/invite"
)

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:             a.ID,
		Email:          a.Email,
		Role:           a.Role,
		OrganizationID: a.OrganizationID,
	}
}

func toTokenResponse(token string, claims session.AccessClaims) tokenResponse {
	return tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   claims.ExpiresAt,
	}
}

func toInviteResponse(inv invite.Invite) inviteResponse {
	return inviteResponse{
		ID:             inv.ID,
		Role:           inv.Role,
		OrganizationID: inv.OrganizationID,
		ExpiresAt:      inv.ExpiresAt,
		MaxUses:        inv.MaxUses,
		UsedCount:      inv.UsedCount,
		RevokedAt:      inv.RevokedAt,
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
