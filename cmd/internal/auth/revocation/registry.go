package revocation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mes/cmd/internal/observability/metrics"
)

// DefaultSweepInterval is how often Run prunes expired token entries.
const DefaultSweepInterval = time.Hour

// Entry is one individually revoked token.
type Entry struct {
	TokenID   string
	ExpiresAt time.Time
}

// AccountRevocation invalidates every token of AccountID issued before RevokedAt.
type AccountRevocation struct {
	AccountID string    `json:"account_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Stats is a read-only snapshot of registry sizes.
type Stats struct {
	RevokedTokenCount   int `json:"revoked_token_count"`
	RevokedAccountCount int `json:"revoked_account_count"`
}

// Registry tracks revoked tokens and account-wide revocations.
//
// One Registry is constructed per process and handed to every collaborator
// that validates or revokes tokens. All methods are safe for concurrent use.
type Registry struct {
	log *slog.Logger
	now func() time.Time

	mu       sync.RWMutex
	tokens   map[string]time.Time // jti -> expires at
	accounts map[string]time.Time // account id -> revoked at (ms resolution)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		log:      slog.Default(),
		now:      time.Now,
		tokens:   make(map[string]time.Time),
		accounts: make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Revoke marks tokenID as revoked until now+ttl, overwriting any existing
// entry. ttl should cover the token's remaining validity; with ttl <= 0 the
// entry is already expired, so it lifts an earlier revocation and is dropped
// by the next Sweep. A blank tokenID is ignored.
func (r *Registry) Revoke(tokenID string, ttl time.Duration) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return
	}

	expiresAt := r.now().Add(ttl)

	r.mu.Lock()
	r.tokens[tokenID] = expiresAt
	n := len(r.tokens)
	r.mu.Unlock()

	metrics.RevokedTokens.Set(float64(n))
}

// RevokeAllForAccount rejects every token of accountID issued before now.
// The revocation stays until ClearAccountRevocation; it is never swept.
func (r *Registry) RevokeAllForAccount(accountID string) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return
	}

	revokedAt := r.now().Truncate(time.Millisecond)

	r.mu.Lock()
	r.accounts[accountID] = revokedAt
	n := len(r.accounts)
	r.mu.Unlock()

	metrics.RevokedAccounts.Set(float64(n))
}

// ClearAccountRevocation removes the blanket revocation for accountID, if any.
func (r *Registry) ClearAccountRevocation(accountID string) {
	accountID = strings.TrimSpace(accountID)

	r.mu.Lock()
	delete(r.accounts, accountID)
	n := len(r.accounts)
	r.mu.Unlock()

	metrics.RevokedAccounts.Set(float64(n))
}

// IsRevoked reports whether a token is revoked, either individually (by
// tokenID, while its entry is unexpired) or by an account cutoff later than
// issuedAt. Comparison against the cutoff happens in milliseconds.
//
// Expired entries are excluded here regardless of whether a sweep ran.
func (r *Registry) IsRevoked(tokenID, accountID string, issuedAt time.Time) bool {
	tokenID = strings.TrimSpace(tokenID)
	accountID = strings.TrimSpace(accountID)
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if tokenID != "" {
		if exp, ok := r.tokens[tokenID]; ok && now.Before(exp) {
			return true
		}
	}

	if accountID != "" {
		if revokedAt, ok := r.accounts[accountID]; ok && revokedAt.UnixMilli() > issuedAt.UnixMilli() {
			return true
		}
	}

	return false
}

// entry returns the tracked entry for tokenID, expired or not.
func (r *Registry) entry(tokenID string) (Entry, bool) {
	tokenID = strings.TrimSpace(tokenID)
	r.mu.RLock()
	exp, ok := r.tokens[tokenID]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return Entry{TokenID: tokenID, ExpiresAt: exp}, true
}

// AccountRevocation returns the blanket revocation for accountID, if any.
func (r *Registry) AccountRevocation(accountID string) (AccountRevocation, bool) {
	accountID = strings.TrimSpace(accountID)
	r.mu.RLock()
	at, ok := r.accounts[accountID]
	r.mu.RUnlock()
	if !ok {
		return AccountRevocation{}, false
	}
	return AccountRevocation{AccountID: accountID, RevokedAt: at}, true
}

// Sweep deletes every token entry with expiresAt <= now and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	removed := 0
	for id, exp := range r.tokens {
		if !now.Before(exp) {
			delete(r.tokens, id)
			removed++
		}
	}
	n := len(r.tokens)
	r.mu.Unlock()

	metrics.RevokedTokens.Set(float64(n))
	metrics.RevocationSweepsTotal.Inc()
	return removed
}

// Stats returns the current registry sizes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		RevokedTokenCount:   len(r.tokens),
		RevokedAccountCount: len(r.accounts),
	}
}

// Run sweeps on every interval tick until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	r.log.Info("revocation.sweeper.start", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			r.log.Info("revocation.sweeper.stop")
			return
		case <-t.C:
			removed := r.Sweep()
			st := r.Stats()
			r.log.Info("revocation.sweep",
				"removed", removed,
				"revoked_tokens", st.RevokedTokenCount,
				"revoked_accounts", st.RevokedAccountCount,
			)
		}
	}
}

// Start runs the sweeper in a goroutine. The returned channel is closed once it has stopped.
func (r *Registry) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, interval)
	}()
	return done
}
