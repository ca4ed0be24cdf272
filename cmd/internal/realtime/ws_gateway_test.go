package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"mes/cmd/internal/auth/revocation"
	"mes/cmd/internal/auth/session"
	v1 "mes/shared/contracts/realtime/v1"
)

func testGatewayConfig() GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	return cfg
}

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, baseHTTPURL, origin, bearerToken, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = query

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if strings.TrimSpace(bearerToken) != "" {
		h.Set("Authorization", "Bearer "+bearerToken)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   h,
	})
}

func mustDialWS(t *testing.T, baseHTTPURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, baseHTTPURL, "", "", "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func writeWS(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectHandshakeStatus(t *testing.T, resp *http.Response, err error, want int) {
	t.Helper()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if status != want {
		t.Fatalf("expected %d, got status=%d err=%v", want, status, err)
	}
}

func TestWSGateway_SubscribeAndReceive(t *testing.T) {
	reg := NewRegistry(testLogger())
	gw := NewWSGateway(testLogger(), reg, testGatewayConfig(), nil)
	ts := startWSTestServer(t, gw)

	if !reg.Attached() {
		t.Fatalf("gateway should attach the registry")
	}

	conn := mustDialWS(t, ts.URL)
	writeWS(t, conn, `{"sensorId":5}`)
	waitFor(t, "subscription", func() bool { return reg.subscribers(KindSensor, "5") == 1 })

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if n := NewNotifier(reg).NotifySensorData("5", v1.SensorReading{Value: 12.5, Time: at}); n != 1 {
		t.Fatalf("queued=%d want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type=%v", typ)
	}

	var got v1.SensorReading
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Value != 12.5 || !got.Time.Equal(at) {
		t.Fatalf("unexpected reading: %+v", got)
	}
}

func TestWSGateway_CloseDeregisters(t *testing.T) {
	reg := NewRegistry(testLogger())
	gw := NewWSGateway(testLogger(), reg, testGatewayConfig(), nil)
	ts := startWSTestServer(t, gw)

	conn := mustDialWS(t, ts.URL)
	waitFor(t, "open", func() bool { return reg.Len() == 1 })

	_ = conn.Close(websocket.StatusNormalClosure, "done")
	waitFor(t, "close", func() bool { return reg.Len() == 0 })
}

func TestWSGateway_BadMessageKeepsConnection(t *testing.T) {
	reg := NewRegistry(testLogger())
	gw := NewWSGateway(testLogger(), reg, testGatewayConfig(), nil)
	ts := startWSTestServer(t, gw)

	conn := mustDialWS(t, ts.URL)
	writeWS(t, conn, `{"type":"newWorkOrders","organizationId":"org-1"}`)
	waitFor(t, "subscription", func() bool { return reg.subscribers(KindWorkOrderNew, "org-1") == 1 })

	writeWS(t, conn, `{oops`)
	writeWS(t, conn, `{"type":"alarms"}`)

	if n := reg.Broadcast(KindWorkOrderNew, "org-1", v1.NewWorkOrders{OrganizationID: "org-1"}); n != 1 {
		t.Fatalf("queued=%d want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("read after bad messages: %v", err)
	}
}

func TestWSGateway_RateLimitCloses(t *testing.T) {
	reg := NewRegistry(testLogger())
	cfg := testGatewayConfig()
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute
	gw := NewWSGateway(testLogger(), reg, cfg, nil)
	ts := startWSTestServer(t, gw)

	conn := mustDialWS(t, ts.URL)
	for i := 0; i < 3; i++ {
		writeWS(t, conn, `{"sensorId":1}`)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Fatalf("close status=%v err=%v", got, err)
	}
	waitFor(t, "deregister", func() bool { return reg.Len() == 0 })
}

func TestWSGateway_OriginRejected(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.AllowedOrigins = []string{"http://localhost:5173"}
	gw := NewWSGateway(testLogger(), nil, cfg, nil)
	ts := startWSTestServer(t, gw)

	_, resp, err := dialWS(t, ts.URL, "https://evil.example", "", "")
	expectHandshakeStatus(t, resp, err, http.StatusForbidden)

	_, resp, err = dialWS(t, ts.URL, "", "", "")
	expectHandshakeStatus(t, resp, err, http.StatusForbidden)
}

func newWSAuthService(t *testing.T) *session.Service {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.Secret = "0123456789abcdef0123456789abcdef"
	cfg.AccessTokenTTL = 15 * time.Minute

	tokens, err := session.NewJWTManager(cfg)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return session.NewService(tokens, revocation.New(), session.WithLogger(testLogger()))
}

func TestWSGateway_RequireAuth(t *testing.T) {
	svc := newWSAuthService(t)

	cfg := testGatewayConfig()
	cfg.RequireAuth = true
	reg := NewRegistry(testLogger())
	gw := NewWSGateway(testLogger(), reg, cfg, svc)
	ts := startWSTestServer(t, gw)

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := dialWS(t, ts.URL, "", "", "")
		expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, resp, err := dialWS(t, ts.URL, "", "not-a-valid-token", "")
		expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
	})

	t.Run("bearer header", func(t *testing.T) {
		tok, _, err := svc.IssueAccessToken(session.Principal{AccountID: "7", Role: "operator"}, time.Now().UTC())
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		conn, resp, err := dialWS(t, ts.URL, "", tok, "")
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.CloseNow()
		waitFor(t, "open", func() bool { return reg.Len() >= 1 })
	})

	t.Run("query token", func(t *testing.T) {
		tok, _, err := svc.IssueAccessToken(session.Principal{AccountID: "8", Role: "viewer"}, time.Now().UTC())
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		conn, resp, err := dialWS(t, ts.URL, "", "", "access_token="+url.QueryEscape(tok))
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.CloseNow()
	})

	t.Run("revoked account", func(t *testing.T) {
		// Issued strictly before the cutoff at millisecond resolution.
		tok, _, err := svc.IssueAccessToken(session.Principal{AccountID: "9", Role: "operator"}, time.Now().UTC().Add(-2*time.Second))
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		svc.RevokeAllUserTokens("9")

		_, resp, err := dialWS(t, ts.URL, "", tok, "")
		expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
	})
}

func TestWSGateway_RequireAuthWithoutValidator(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.RequireAuth = true
	gw := NewWSGateway(testLogger(), nil, cfg, nil)
	ts := startWSTestServer(t, gw)

	_, resp, err := dialWS(t, ts.URL, "", "anything", "")
	expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	if got := classifyReadErr(context.Canceled); got != readErrCtxDone {
		t.Fatalf("canceled=%v", got)
	}
	if got := classifyReadErr(websocket.CloseError{Code: websocket.StatusNormalClosure}); got != readErrClose {
		t.Fatalf("close=%v", got)
	}
}
