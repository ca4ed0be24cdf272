package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"mes/cmd/internal/httpx"
)

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(ctx context.Context) (AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(AccessClaims)
	return c, ok
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) < len("bearer ") || !strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(raw[len("bearer "):])
	return tok, tok != ""
}

// Middleware rejects requests without a valid, unrevoked bearer token and
// stores the claims on the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := BearerToken(r)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims, err := s.ValidateAccessToken(tok, s.now().UTC())
		if err != nil {
			if errors.Is(err, ErrTokenRevoked) {
				httpx.WriteError(w, http.StatusUnauthorized, "token_revoked", "token has been revoked")
				return
			}

			reason := ""
			var ve VerifyError
			if errors.As(err, &ve) {
				reason = ve.Reason
			}
			s.log.Debug("session.auth.reject", "reason", reason, "path", r.URL.Path)
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole allows the request only when the caller's role claim is one of roles.
// It must run after Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
