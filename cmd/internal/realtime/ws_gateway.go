package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"mes/cmd/identity/ids"
	"mes/cmd/internal/auth/session"
)

const (
	wsSubprotocolV1 = "mes.realtime.v1"

	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// TokenValidator validates bearer tokens on upgrade when auth is required.
type TokenValidator interface {
	ValidateAccessToken(token string, now time.Time) (session.AccessClaims, error)
}

// WSGateway is the websocket entrypoint. It owns the transport concerns
// (origin policy, auth, heartbeats, rate limits, write timeouts) and feeds
// every connection event into the Registry.
type WSGateway struct {
	log  *slog.Logger
	reg  *Registry
	auth TokenValidator
	cfg  GatewayConfig

	origins originPolicy
	now     func() time.Time
}

// NewWSGateway attaches a gateway to reg. A nil reg gets a private registry.
func NewWSGateway(log *slog.Logger, reg *Registry, cfg GatewayConfig, auth TokenValidator) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = NewRegistry(log)
	}
	cfg = cfg.normalized()

	g := &WSGateway{
		log:     log,
		reg:     reg,
		auth:    auth,
		cfg:     cfg,
		origins: newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		now:     time.Now,
	}

	if cfg.RequireAuth && auth == nil {
		log.Error("ws.auth.unconfigured", "hint", "MES_WS_REQUIRE_AUTH set without a token validator; all upgrades will be rejected")
	}

	reg.Attach()
	return g
}

// Registry returns the registry this gateway feeds.
func (g *WSGateway) Registry() *Registry { return g.reg }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the connection until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r.Header.Get("Origin")); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var accountID string
	if g.cfg.RequireAuth {
		claims, err := g.authenticate(r)
		if err != nil {
			g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		accountID = claims.AccountID
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.origins.acceptPatterns(),
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(ids.MustULID(g.now()), g.cfg.SendQueueSize)
	client.AccountID = accountID
	client.RemoteAddr = r.RemoteAddr

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.reg.OnOpen(client)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.reg.OnClose(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeatLoop(ctx, conn, client, shutdown)
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		_, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.reg.OnError(client, err)
				shutdown(websocket.StatusInternalError, "read failed")
			}
			break
		}

		if !rl.Allow(g.now()) {
			g.log.Info("ws.rate_limited", "client_id", client.ID)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}

		g.reg.OnMessage(client, data)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *WSGateway) authenticate(r *http.Request) (session.AccessClaims, error) {
	if g.auth == nil {
		return session.AccessClaims{}, errors.New("no token validator")
	}
	tok, ok := session.BearerToken(r)
	if !ok {
		// Browsers cannot set headers on a websocket upgrade.
		tok = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if tok == "" {
		return session.AccessClaims{}, errors.New("missing token")
	}
	return g.auth.ValidateAccessToken(tok, g.now().UTC())
}

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, c *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case frame := <-c.Send:
			wctx, wcancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				g.log.Info("ws.write.fail", "client_id", c.ID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *WSGateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, c *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("ws.ping.fail", "client_id", c.ID, "failures", failures, "err", err)
			if failures >= wsMaxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
