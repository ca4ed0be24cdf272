package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

var errMissingOrigin = errors.New("missing origin")

// originPolicy decides which browser origins may open a websocket.
// An allowlist entry matches either the full origin or just its host.
type originPolicy struct {
	required bool
	allowAll bool
	origins  map[string]struct{}
	hosts    map[string]struct{}
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	p := originPolicy{
		required: required,
		origins:  make(map[string]struct{}, len(allowed)),
		hosts:    make(map[string]struct{}, len(allowed)),
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case a == "*":
			p.allowAll = true
		default:
			p.origins[a] = struct{}{}
			if h := hostOf(a); h != "" {
				p.hosts[h] = struct{}{}
			}
		}
	}
	return p
}

func (p originPolicy) check(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		if p.required {
			return errMissingOrigin
		}
		return nil
	}
	if p.allowAll {
		return nil
	}
	if _, ok := p.origins[origin]; ok {
		return nil
	}
	if h := hostOf(origin); h != "" {
		if _, ok := p.hosts[h]; ok {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// acceptPatterns are handed to websocket.Accept, which runs its own
// cross-origin check against host patterns.
func (p originPolicy) acceptPatterns() []string {
	if p.allowAll {
		return []string{"*"}
	}
	out := make([]string, 0, len(p.hosts))
	for h := range p.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// hostOf lowercases and strips scheme and port from an origin or host[:port].
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(strings.TrimSpace(s))
}
