package session

import (
	"log/slog"
	"strings"
	"time"

	"mes/cmd/internal/auth/revocation"
)

// MinRevocationTTL is the shortest window a revoked token is tracked for.
const MinRevocationTTL = time.Second

// Service validates bearer tokens against the revocation registry and
// exposes the revocation operations used by logout flows.
type Service struct {
	tokens  AccessTokenManager
	revoked *revocation.Registry
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source used by the HTTP middleware.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service around tokens and the process revocation registry.
//
// A nil registry gets a private one so the service stays usable in tools and
// tests; production wiring always passes the shared handle.
func NewService(tokens AccessTokenManager, revoked *revocation.Registry, opts ...Option) *Service {
	s := &Service{
		tokens:  tokens,
		revoked: revoked,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.revoked == nil {
		s.log.Warn("session.revocation.private_registry")
		s.revoked = revocation.New(revocation.WithLogger(s.log), revocation.WithClock(s.now))
	}
	return s
}

// IssueAccessToken mints an access token for p.
func (s *Service) IssueAccessToken(p Principal, now time.Time) (string, AccessClaims, error) {
	return s.tokens.Issue(p, now)
}

// ValidateAccessToken verifies token and rejects it when revoked.
func (s *Service) ValidateAccessToken(token string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, err
	}

	if s.revoked.IsRevoked(claims.TokenID, claims.AccountID, claims.IssuedAt) {
		return AccessClaims{}, ErrTokenRevoked
	}

	return claims, nil
}

// RevokeToken revokes a single token for the rest of its validity (at least MinRevocationTTL).
func (s *Service) RevokeToken(claims AccessClaims, now time.Time) {
	if strings.TrimSpace(claims.TokenID) == "" {
		return
	}

	ttl := claims.ExpiresAt.Sub(now)
	if ttl < MinRevocationTTL {
		ttl = MinRevocationTTL
	}

	s.revoked.Revoke(claims.TokenID, ttl)
	s.log.Info("session.token.revoked",
		"account_id", claims.AccountID,
		"jti", claims.TokenID,
		"ttl", ttl.String(),
	)
}

// RevokeAllUserTokens rejects every token of accountID issued up to now.
func (s *Service) RevokeAllUserTokens(accountID string) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return
	}
	s.revoked.RevokeAllForAccount(accountID)
	s.log.Info("session.account.revoked", "account_id", accountID)
}

// ClearUserRevocation lifts an account-wide revocation.
func (s *Service) ClearUserRevocation(accountID string) {
	s.revoked.ClearAccountRevocation(accountID)
	s.log.Info("session.account.cleared", "account_id", accountID)
}

// AccountRevocation returns the account-wide revocation for accountID, if any.
func (s *Service) AccountRevocation(accountID string) (revocation.AccountRevocation, bool) {
	return s.revoked.AccountRevocation(accountID)
}

// IsTokenRevoked reports whether the token identified by tokenID/accountID/issuedAt is revoked.
func (s *Service) IsTokenRevoked(tokenID, accountID string, issuedAt time.Time) bool {
	return s.revoked.IsRevoked(tokenID, accountID, issuedAt)
}

// Stats returns the revocation registry sizes.
func (s *Service) Stats() revocation.Stats {
	return s.revoked.Stats()
}
