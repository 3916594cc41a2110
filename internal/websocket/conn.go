package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/metrics"
)

const writeTimeout = 10 * time.Second

// Conn is one authenticated persistent connection. Outbound frames go through
// a buffered send channel drained by writePump; inbound frames are queued and
// handled one at a time by a single processor goroutine.
type Conn struct {
	ID   string
	User domain.User

	ws      *websocket.Conn
	send    chan []byte
	inbound chan []byte
	limiter *rate.Limiter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newConn(id string, user *domain.User, ws *websocket.Conn, opts Options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ID:      id,
		User:    *user,
		ws:      ws,
		send:    make(chan []byte, opts.SendBuffer),
		inbound: make(chan []byte, opts.InboundBuffer),
		logger:  slog.Default().With("service", "websocket", "conn_id", id, "user_id", user.ID),
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.EventsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.EventsPerSecond), opts.EventBurst)
	}
	return c
}

// Deliver implements hub.Endpoint. It never blocks: a full buffer or a closed
// connection drops the frame.
func (c *Conn) Deliver(payload []byte) error {
	select {
	case <-c.ctx.Done():
		return hub.ErrEndpointClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("Client send channel full, dropping message")
		return hub.ErrEndpointFull
	}
}

// sendError reports a failed inbound event to this connection only.
func (c *Conn) sendError(event, message string) {
	frame := events.MustEncode(events.Error, events.ErrorPayload{Message: message, Event: event})
	_ = c.Deliver(frame)
}

// readPump reads frames from the socket into the inbound queue until the
// transport fails.
func (c *Conn) readPump() {
	defer close(c.inbound)

	for {
		_, frame, err := c.ws.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.logger.Info("WebSocket closed normally by client")
			case errors.Is(err, io.EOF) || errors.Is(err, context.Canceled):
			default:
				c.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.RateLimitHits.Inc()
			c.sendError("", "rate limit exceeded")
			continue
		}

		select {
		case c.inbound <- frame:
		case <-c.ctx.Done():
			return
		}
	}
}

// processLoop handles queued frames in arrival order. Frames still queued when
// the connection closes are discarded; the one being handled runs to
// completion.
func (c *Conn) processLoop(handle func(*Conn, []byte)) {
	for frame := range c.inbound {
		if c.ctx.Err() != nil {
			continue
		}
		handle(c, frame)
	}
}

// writePump writes queued frames to the socket.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.Debug("WebSocket write error", "error", err)
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(code, reason)
	})
}
