package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"mes/cmd/internal/httpx"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// loginThrottle remembers recent login failures per client IP and per
// identifier (normalized email). It is process-local.
type loginThrottle struct {
	mu        sync.Mutex
	byIP      map[string][]time.Time
	byAccount map[string][]time.Time
	horizon   time.Duration
}

func newLoginThrottle(cfg Config) *loginThrottle {
	horizon := cfg.LoginIPWindow
	for _, t := range cfg.lockoutTiers() {
		if t.Duration > horizon {
			horizon = t.Duration
		}
	}
	return &loginThrottle{
		byIP:      make(map[string][]time.Time),
		byAccount: make(map[string][]time.Time),
		horizon:   horizon,
	}
}

func (t *loginThrottle) recordFailure(ip, identifier string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ip != "" {
		t.byIP[ip] = prepend(t.prune(t.byIP[ip], now), now)
	}
	if identifier != "" {
		t.byAccount[identifier] = prepend(t.prune(t.byAccount[identifier], now), now)
	}
}

// reset forgets identifier failures after a successful login.
func (t *loginThrottle) reset(identifier string) {
	t.mu.Lock()
	delete(t.byAccount, identifier)
	t.mu.Unlock()
}

func (t *loginThrottle) ipFailures(ip string, now time.Time) []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.prune(t.byIP[ip], now)
	if len(f) == 0 {
		delete(t.byIP, ip)
		return nil
	}
	t.byIP[ip] = f
	return append([]time.Time(nil), f...)
}

func (t *loginThrottle) accountFailures(identifier string, now time.Time) []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.prune(t.byAccount[identifier], now)
	if len(f) == 0 {
		delete(t.byAccount, identifier)
		return nil
	}
	t.byAccount[identifier] = f
	return append([]time.Time(nil), f...)
}

// prune drops failures older than the horizon. Slices are newest first.
func (t *loginThrottle) prune(f []time.Time, now time.Time) []time.Time {
	cut := now.Add(-t.horizon)
	for i, ts := range f {
		if !ts.After(cut) {
			return f[:i]
		}
	}
	return f
}

func prepend(f []time.Time, ts time.Time) []time.Time {
	f = append(f, time.Time{})
	copy(f[1:], f)
	f[0] = ts
	return f
}

func (h *Handler) checkLoginIPThrottle(ip string, now time.Time) (bool, time.Duration) {
	if ip == "" || h.cfg.LoginIPMax <= 0 {
		return false, 0
	}
	return evaluateWindowThrottle(now, h.throttle.ipFailures(ip, now), h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
}

func (h *Handler) checkLoginIdentifierThrottle(identifier string, now time.Time) (bool, time.Duration) {
	if identifier == "" {
		return false, 0
	}
	return evaluateProgressiveLockout(now, h.throttle.accountFailures(identifier, now), h.cfg.lockoutTiers())
}

// evaluateWindowThrottle blocks once max failures fall inside the trailing window.
// retry is when the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, ts := range failures {
		if !ts.After(cut) || ts.After(now) {
			continue
		}
		count++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if count < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the first tier (most severe first) whose
// threshold is reached and whose lockout, counted from the latest failure,
// has not yet elapsed.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	var latest time.Time
	for _, ts := range failures {
		if ts.After(latest) {
			latest = ts
		}
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || tier.Duration <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if until := latest.Add(tier.Duration); until.After(now) {
			return true, until.Sub(now)
		}
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
