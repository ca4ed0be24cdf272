package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer   abc  ", want: "abc", ok: true},
		{header: "Basic abc"},
		{header: "Bearer "},
		{header: ""},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(r)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("BearerToken(%q)=(%q,%v) want (%q,%v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	start := time.Now().UTC()
	svc, _, _ := newTestService(t, start)

	operator, opClaims, err := svc.IssueAccessToken(Principal{AccountID: "42", Role: "operator"}, start)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	admin, _, err := svc.IssueAccessToken(Principal{AccountID: "1", Role: "admin"}, start)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	revoked, revClaims, err := svc.IssueAccessToken(Principal{AccountID: "42", Role: "operator"}, start)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	svc.RevokeToken(revClaims, start)

	var seen AccessClaims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFrom(r.Context())
		if !ok {
			t.Errorf("claims missing from context")
		}
		seen = c
		w.WriteHeader(http.StatusNoContent)
	})

	authed := svc.Middleware(inner)
	adminOnly := svc.Middleware(RequireRole("admin")(inner))

	tests := []struct {
		name     string
		handler  http.Handler
		token    string
		wantCode int
		wantBody string
	}{
		{name: "no token", handler: authed, wantCode: http.StatusUnauthorized, wantBody: "unauthorized"},
		{name: "bad token", handler: authed, token: "nope", wantCode: http.StatusUnauthorized, wantBody: "invalid_token"},
		{name: "revoked", handler: authed, token: revoked, wantCode: http.StatusUnauthorized, wantBody: "token_revoked"},
		{name: "ok", handler: authed, token: operator, wantCode: http.StatusNoContent},
		{name: "role denied", handler: adminOnly, token: operator, wantCode: http.StatusForbidden, wantBody: "forbidden"},
		{name: "role allowed", handler: adminOnly, token: admin, wantCode: http.StatusNoContent},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tt.token != "" {
			r.Header.Set("Authorization", "Bearer "+tt.token)
		}
		rr := httptest.NewRecorder()
		tt.handler.ServeHTTP(rr, r)

		if rr.Code != tt.wantCode {
			t.Fatalf("%s: status=%d want %d body=%s", tt.name, rr.Code, tt.wantCode, rr.Body.String())
		}
		if tt.wantBody != "" && !strings.Contains(rr.Body.String(), tt.wantBody) {
			t.Fatalf("%s: body=%s want %q", tt.name, rr.Body.String(), tt.wantBody)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+operator)
	authed.ServeHTTP(httptest.NewRecorder(), r)
	if seen.TokenID != opClaims.TokenID || seen.AccountID != "42" {
		t.Fatalf("unexpected claims in context: %+v", seen)
	}
}

func TestRequireRole_WithoutClaims(t *testing.T) {
	t.Parallel()

	h := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("handler must not run")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", rr.Code)
	}
}
