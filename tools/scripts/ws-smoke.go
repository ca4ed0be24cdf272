// Package main provides a WebSocket smoke client for MES realtime.
//
// It validates:
//   - handshake + subprotocol selection
//   - bearer auth (from -token, MES_SMOKE_TOKEN, or a -email/-password login)
//   - subscription to a sensor or organization feed
//
// Received payloads are printed one per line until -count frames arrive,
// -idle passes without a frame, or the process is interrupted.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"

	v1 "mes/shared/contracts/realtime/v1"
)

const (
	defaultSubprotocol = "mes.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token    = flag.String("token", os.Getenv("MES_SMOKE_TOKEN"), "Bearer access token")
		email    = flag.String("email", "", "Log in with this account when no token is given")
		password = flag.String("password", os.Getenv("MES_SMOKE_PASSWORD"), "Password for -email")
		kind     = flag.String("type", v1.SubscribeSensor, "Subscription type: sensor, newWorkOrders, workOrdersAdvance")
		target   = flag.String("id", "1", "Sensor id (type=sensor) or organization id")
		count    = flag.Int("count", 0, "Stop after this many frames (0 = until interrupted)")
		idle     = flag.Duration("idle", 0, "Stop when no frame arrives for this long (0 = never)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Dial and login timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	sub, err := buildSubscribe(*kind, *target)
	if err != nil {
		fatalf("invalid subscription: %v", err)
	}

	root, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tok := strings.TrimSpace(*token)
	if tok == "" && strings.TrimSpace(*email) != "" {
		tok = mustLogin(root, *wsURL, *email, *password, *timeout)
		if *verbose {
			fmt.Fprintln(os.Stderr, "login: ok")
		}
	}

	conn := mustConnect(root, *wsURL, *origin, tok, *timeout)
	defer closeWS(conn)

	mustWriteWithTimeout(root, conn, sub, *timeout)
	if *verbose {
		raw, _ := json.Marshal(sub)
		fmt.Fprintf(os.Stderr, "subscribed: %s\n", raw)
	}

	n, err := readFrames(root, conn, *count, *idle, os.Stdout)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, context.DeadlineExceeded):
		if *verbose {
			fmt.Fprintf(os.Stderr, "idle for %s\n", *idle)
		}
	default:
		fatalf("read after %d frames: %v", n, err)
	}

	fmt.Fprintf(os.Stderr, "OK: type=%s id=%s frames=%d\n", *kind, *target, n)
}

func buildSubscribe(kind, target string) (v1.Subscribe, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return v1.Subscribe{}, errors.New("missing -id")
	}
	id := v1.IDJSON(target)

	switch strings.TrimSpace(kind) {
	case "", v1.SubscribeSensor:
		return v1.Subscribe{Type: v1.SubscribeSensor, SensorID: id}, nil
	case v1.SubscribeNewWorkOrders, v1.SubscribeWorkOrdersAdvance:
		return v1.Subscribe{Type: strings.TrimSpace(kind), OrganizationID: id}, nil
	default:
		return v1.Subscribe{}, fmt.Errorf("unknown -type %q", kind)
	}
}

// readFrames prints each text frame as a line. An idle timeout surfaces as
// context.DeadlineExceeded.
func readFrames(parent context.Context, conn *websocket.Conn, limit int, idle time.Duration, out io.Writer) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		ctx, cancel := parent, context.CancelFunc(func() {})
		if idle > 0 {
			ctx, cancel = context.WithTimeout(parent, idle)
		}
		typ, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			if parent.Err() != nil {
				return n, parent.Err()
			}
			return n, err
		}
		if typ != websocket.MessageText {
			continue
		}
		n++
		fmt.Fprintf(out, "%s\n", bytes.TrimSpace(data))
	}
	return n, nil
}

func mustLogin(parent context.Context, wsURL, email, password string, timeout time.Duration) string {
	loginURL, err := loginURLFor(wsURL)
	if err != nil {
		fatalf("login url: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(body))
	if err != nil {
		fatalf("login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != http.StatusOK {
		fatalf("login: status=%d body=%s", resp.StatusCode, raw)
	}

	var out struct {
		Token struct {
			AccessToken string `json:"access_token"`
		} `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Token.AccessToken == "" {
		fatalf("login: unexpected response %s", raw)
	}
	return out.Token.AccessToken
}

// loginURLFor maps ws(s)://host/ws to http(s)://host/auth/login.
func loginURLFor(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/auth/login"
	u.RawQuery = ""
	return u.String(), nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect: status=%d: %v", resp.StatusCode, err)
		}
		fatalf("connect: %v", err)
	}

	assertSubprotocol(resp, defaultSubprotocol)
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		fatalf("handshake: missing response")
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("handshake: subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		fatalf("write: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
