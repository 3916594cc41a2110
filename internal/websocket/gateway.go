// Package websocket terminates persistent client connections: it
// authenticates them, registers them in the session registry and turns their
// inbound events into chat operations.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/parley/internal/auth"
	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/metrics"
)

// ChatService is the chat core as the event path sees it.
type ChatService interface {
	Join(ctx context.Context, connID, userID, conversationID string) error
	Leave(connID, conversationID string)
	Send(ctx context.Context, userID, conversationID, content string, typ domain.MessageType) (*domain.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) (int, error)
	Typing(ctx context.Context, from domain.PublicProfile, conversationID string, typing bool)
}

// Sessions is the session registry as the gateway sees it.
type Sessions interface {
	Register(userID, connID string, ep hub.Endpoint) bool
	Unregister(connID string) (userID string, last bool)
	InRoom(connID, room string) bool
}

// Presence is what the gateway needs from the presence broadcaster.
type Presence interface {
	Remember(profile domain.PublicProfile)
	Announce(ctx context.Context, userID string)
}

// Options tune per-connection resources. A zero EventsPerSecond disables the
// inbound rate limit.
type Options struct {
	SendBuffer       int
	InboundBuffer    int
	EventsPerSecond  float64
	EventBurst       int
	StoreTimeout     time.Duration
	HandshakeTimeout time.Duration
	// AllowedOrigins are host patterns accepted on the upgrade request. "*"
	// disables the origin check.
	AllowedOrigins []string
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		SendBuffer:       256,
		InboundBuffer:    64,
		EventsPerSecond:  20,
		EventBurst:       40,
		StoreTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.InboundBuffer <= 0 {
		o.InboundBuffer = d.InboundBuffer
	}
	if o.EventBurst <= 0 {
		o.EventBurst = d.EventBurst
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	return o
}

// Gateway accepts websocket connections.
type Gateway struct {
	verifier  auth.Verifier
	sessions  Sessions
	chat      ChatService
	presence  Presence
	whitelist *eventWhitelist
	opts      Options
	logger    *slog.Logger
}

// NewGateway creates a new Gateway.
func NewGateway(verifier auth.Verifier, sessions Sessions, chat ChatService, presence Presence, opts Options) *Gateway {
	return &Gateway{
		verifier:  verifier,
		sessions:  sessions,
		chat:      chat,
		presence:  presence,
		whitelist: DefaultEventWhitelist(),
		opts:      opts.withDefaults(),
		logger:    slog.Default().With("service", "websocket"),
	}
}

// Handler returns the echo handler for the upgrade route.
//
// A token on the Authorization header or the token query parameter is
// verified before the upgrade, and a bad one is refused with 401. Without
// one, the socket is accepted and the first frame must be an authenticate
// event; anything else closes the connection before it is registered.
func (g *Gateway) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()

		var user *domain.User
		if token := auth.TokenFromRequest(r); token != "" {
			u, err := g.verifier.Verify(r.Context(), token)
			if err != nil {
				g.reject(err)
				return err
			}
			user = u
		}

		ws, err := websocket.Accept(c.Response(), r, g.acceptOptions())
		if err != nil {
			g.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
			return nil
		}

		if user == nil {
			user, err = g.handshake(ws)
			if err != nil {
				g.reject(err)
				_ = ws.Close(websocket.StatusPolicyViolation, closeReason(err))
				return nil
			}
		}

		g.serve(ws, user)
		return nil
	}
}

func (g *Gateway) acceptOptions() *websocket.AcceptOptions {
	for _, o := range g.opts.AllowedOrigins {
		if o == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: g.opts.AllowedOrigins}
}

// handshake waits for the authenticate frame.
func (g *Gateway) handshake(ws *websocket.Conn) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.HandshakeTimeout)
	defer cancel()

	_, frame, err := ws.Read(ctx)
	if err != nil {
		return nil, &domain.AuthError{Reason: domain.AuthMissing, Err: err}
	}
	env, err := events.Decode(frame)
	if err != nil || env.Event != events.Authenticate {
		return nil, &domain.AuthError{Reason: domain.AuthMissing}
	}
	var p events.AuthenticatePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, &domain.AuthError{Reason: domain.AuthInvalid, Err: err}
	}
	return g.verifier.Verify(ctx, p.Token)
}

func (g *Gateway) reject(err error) {
	reason := "error"
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		reason = string(authErr.Reason)
	}
	metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	g.logger.Info("Refused connection", "reason", reason, "error", err)
}

// closeReason keeps close frames under the protocol's 123 byte limit.
func closeReason(err error) string {
	msg := err.Error()
	if errors.Is(err, domain.ErrPersistence) {
		msg = "authentication unavailable"
	}
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}

// serve runs one connection until the transport is lost.
func (g *Gateway) serve(ws *websocket.Conn, user *domain.User) {
	conn := newConn(uuid.NewString(), user, ws, g.opts)

	g.presence.Remember(user.Profile())
	g.sessions.Register(user.ID, conn.ID, conn)
	metrics.ConnectionsActive.Inc()
	conn.logger.Info("Client connected")

	go conn.writePump()
	go conn.processLoop(g.handle)

	conn.readPump()

	conn.close(websocket.StatusNormalClosure, "")
	g.sessions.Unregister(conn.ID)
	metrics.ConnectionsActive.Dec()
	conn.logger.Info("Client disconnected")
}

// storeContext detaches store work from the connection so a disconnect never
// aborts a write halfway, while still bounding it.
func (g *Gateway) storeContext(c *Conn) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.ctx), g.opts.StoreTimeout)
}
