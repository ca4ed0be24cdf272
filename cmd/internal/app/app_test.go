package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"mes/cmd/identity"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/realtime"
	"mes/cmd/security/password"
)

const (
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
	testAdminEmail    = "admin@plant.example"
	testAdminPassword = "Line-3-Supervisor!"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MES_DATABASE_URL", "")
	t.Setenv("MES_JWT_SECRET", testJWTSecret)
	t.Setenv("MES_TOKEN_HMAC_KEY", testJWTSecret+"-codes")
	t.Setenv("MES_REQUIRE_STRONG_SECRET", "true")
	t.Setenv("MES_BOOTSTRAP_ADMIN_EMAIL", testAdminEmail)
	t.Setenv("MES_BOOTSTRAP_ADMIN_PASSWORD", testAdminPassword)
	t.Setenv("MES_BOOTSTRAP_ADMIN_ORG", "5")
	t.Setenv("MES_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("MES_ARGON2_ITERATIONS", "1")
	t.Setenv("MES_ARGON2_PARALLELISM", "1")
	t.Setenv("MES_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("MES_WS_REQUIRE_AUTH", "true")
	t.Setenv("MES_CORS_ALLOWED_ORIGINS", "")
}

func TestApp_EndToEnd_LoginSubscribeReceive(t *testing.T) {
	setTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a, err := New(ctx, LoadConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	// Login as the bootstrap admin.
	raw, _ := json.Marshal(map[string]string{"email": testAdminEmail, "password": testAdminPassword})
	resp, err := http.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var login struct {
		Token struct {
			AccessToken string `json:"access_token"`
		} `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || login.Token.AccessToken == "" {
		t.Fatalf("login status=%d token=%q", resp.StatusCode, login.Token.AccessToken)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID on response")
	}
	bearer := "Bearer " + login.Token.AccessToken

	// Anonymous upgrade is refused when auth is required.
	if _, res, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil); err == nil {
		t.Fatalf("anonymous dial should fail")
	} else if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous dial: err=%v res=%v", err, res)
	}

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{bearer}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"sensor","sensorId":5}`)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for a.hub.Stats().Subscriptions[realtime.KindSensor.String()] != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/sensors/5/data", strings.NewReader(`{"value":21.5}`))
	req.Header.Set("Authorization", bearer)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post reading: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post reading status=%d", resp.StatusCode)
	}

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readCancel()
	_, frame, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var reading struct {
		Value float64   `json:"value"`
		Time  time.Time `json:"time"`
	}
	if err := json.Unmarshal(frame, &reading); err != nil {
		t.Fatalf("unmarshal frame %q: %v", frame, err)
	}
	if reading.Value != 21.5 || reading.Time.IsZero() {
		t.Fatalf("unexpected frame: %s", frame)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/realtime/stats", nil)
	req.Header.Set("Authorization", bearer)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("realtime stats: %v", err)
	}
	var rts realtime.Stats
	err = json.NewDecoder(resp.Body).Decode(&rts)
	_ = resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("realtime stats status=%d err=%v", resp.StatusCode, err)
	}
	if !rts.Attached || rts.Connections != 1 || rts.Subscriptions[realtime.KindSensor.String()] != 1 {
		t.Fatalf("unexpected realtime stats: %+v", rts)
	}

	// logout_all cuts the websocket credential off for new upgrades and REST alike.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/auth/logout_all", nil)
	req.Header.Set("Authorization", bearer)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("logout_all: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout_all status=%d", resp.StatusCode)
	}
	if st := a.revocations.Stats(); st.RevokedAccountCount != 1 {
		t.Fatalf("stats after logout_all: %+v", st)
	}
}

func TestApp_ProbesAndMetrics(t *testing.T) {
	setTestEnv(t)

	a, err := New(context.Background(), LoadConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, resp.StatusCode)
		}
		if path == "/metrics" && !strings.Contains(string(body), "mes_ws_connections") {
			t.Fatalf("metrics missing mes collectors")
		}
		if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("GET %s missing security headers", path)
		}
	}

	resp, err := http.Get(ts.URL + "/api/v1/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown route status=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/sensors/5/data")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous known route status=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/realtime/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous realtime stats status=%d", resp.StatusCode)
	}
}

func TestHandleReady_RequiresAttachedRealtime(t *testing.T) {
	t.Parallel()

	a := &App{log: discardLogger(), hub: realtime.NewRegistry(discardLogger())}

	rr := httptest.NewRecorder()
	a.handleReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unattached status=%d", rr.Code)
	}

	a.hub.Attach()
	rr = httptest.NewRecorder()
	a.handleReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("attached status=%d", rr.Code)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	setTestEnv(t)
	t.Setenv("MES_READINESS_REQUIRE_DB", "true")

	a, err := New(context.Background(), LoadConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d want 503", rr.Code)
	}
}

func TestNew_RejectsWeakSecretUnderPolicy(t *testing.T) {
	setTestEnv(t)
	t.Setenv("MES_JWT_SECRET", "short")

	if _, err := New(context.Background(), LoadConfig(), discardLogger()); err == nil {
		t.Fatalf("expected security policy error")
	}
}

func TestNew_RequiresCodeKeyUnderPolicy(t *testing.T) {
	setTestEnv(t)
	t.Setenv("MES_TOKEN_HMAC_KEY", "")

	if _, err := New(context.Background(), LoadConfig(), discardLogger()); err == nil {
		t.Fatalf("expected error without MES_TOKEN_HMAC_KEY under strong policy")
	}

	t.Setenv("MES_REQUIRE_STRONG_SECRET", "false")
	if _, err := New(context.Background(), LoadConfig(), discardLogger()); err != nil {
		t.Fatalf("unkeyed codes are allowed without the policy: %v", err)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		secret  string
		wantErr bool
	}{
		{name: "policy off", cfg: Config{}, secret: "short"},
		{name: "strong", cfg: Config{RequireStrongSecret: true}, secret: testJWTSecret},
		{name: "missing", cfg: Config{RequireStrongSecret: true}, secret: " ", wantErr: true},
		{name: "short", cfg: Config{RequireStrongSecret: true}, secret: "0123456789", wantErr: true},
		{name: "bootstrap password without email", cfg: Config{BootstrapAdminPassword: "x"}, secret: testJWTSecret, wantErr: true},
	}

	for _, tc := range cases {
		err := ValidateSecurityConfig(tc.cfg, session.Config{Secret: tc.secret})
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestBootstrapAdmin_Idempotent(t *testing.T) {
	t.Parallel()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	accounts := identity.NewInMemoryStore()
	cfg := Config{BootstrapAdminEmail: "Admin@Plant.example", BootstrapAdminPassword: testAdminPassword, BootstrapAdminOrg: "5"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := bootstrapAdmin(ctx, discardLogger(), accounts, pw, cfg); err != nil {
			t.Fatalf("bootstrapAdmin #%d: %v", i, err)
		}
	}

	acc, err := accounts.AccountByEmail(ctx, testAdminEmail)
	if err != nil {
		t.Fatalf("AccountByEmail: %v", err)
	}
	if acc.Role != identity.RoleAdmin || acc.OrganizationID != "5" {
		t.Fatalf("unexpected admin: %+v", acc)
	}

	cfg.BootstrapAdminEmail = "weak@plant.example"
	cfg.BootstrapAdminPassword = "123"
	if err := bootstrapAdmin(ctx, discardLogger(), accounts, pw, cfg); err == nil {
		t.Fatalf("weak bootstrap password should be rejected")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("MES_TEST_CSV", " a, ,b ,")
	t.Setenv("MES_TEST_INT", "-3")
	t.Setenv("MES_TEST_ZERO", "0")
	t.Setenv("MES_TEST_DUR", "nope")

	if got := EnvCSV("MES_TEST_CSV"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("EnvCSV=%q", got)
	}
	if got := EnvInt("MES_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d want default", got)
	}
	if got := EnvIntAllowZero("MES_TEST_ZERO", 7); got != 0 {
		t.Fatalf("EnvIntAllowZero=%d want 0", got)
	}
	if got := EnvDuration("MES_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration=%v want default", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("MES_TEST_FROM_FILE=from-file\nMES_TEST_PRESET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("MES_ENV_FILE", path)
	t.Setenv("MES_TEST_PRESET", "from-env")
	t.Setenv("MES_TEST_FROM_FILE", "")
	_ = os.Unsetenv("MES_TEST_FROM_FILE")

	if err := LoadDotEnv(); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("MES_TEST_FROM_FILE"); got != "from-file" {
		t.Fatalf("MES_TEST_FROM_FILE=%q", got)
	}
	if got := os.Getenv("MES_TEST_PRESET"); got != "from-env" {
		t.Fatalf("existing variables must win, got %q", got)
	}

	t.Setenv("MES_ENV_FILE", filepath.Join(dir, "missing.env"))
	if err := LoadDotEnv(); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
