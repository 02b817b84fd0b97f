// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Tyrowin/chatrelay/internal/fanout"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var errPingDue = errors.New("ping due")

// Client is the handler for one WebSocket connection. It reads client
// frames and applies them to the roster and broadcast stream while
// concurrently writing every broadcast frame back to the socket.
type Client struct {
	id             registry.ID
	addr           string
	conn           *websocket.Conn
	hub            *Hub
	sub            *fanout.Subscriber
	log            *slog.Logger
	state          atomicState
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// newClient subscribes to the broadcast stream immediately so the client
// sees every frame published from accept onward, even before it registers.
func newClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(hub.cfg.MaxMessageSize)
	}
	id := registry.NewID()

	return &Client{
		id:             id,
		addr:           addr,
		conn:           conn,
		hub:            hub,
		sub:            hub.fanout.Subscribe(),
		log:            hub.log.With("id", id, "addr", addr),
		maxMessageSize: hub.cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(hub.cfg.RateLimit),
		rateLimit:      hub.cfg.RateLimit,
	}
}

// ID returns the connection identity used as the roster key.
func (c *Client) ID() registry.ID { return c.id }

// Addr returns the remote address the connection was accepted from.
func (c *Client) Addr() string { return c.addr }

// State returns the client's current lifecycle stage.
func (c *Client) State() ConnState { return c.state.Load() }

// run blocks until either pump stops; the errgroup context then stops the other.
func (c *Client) run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(c.readPump)
	g.Go(func() error { return c.writePump(ctx) })

	err := g.Wait()
	c.close(err)
}

// close releases the subscriber, drops the identity from the roster and
// tells everyone else who is still here.
func (c *Client) close(cause error) {
	c.state.Store(StateClosed)
	c.sub.Close()
	c.hub.registry.Unregister(c.id)
	c.hub.publishRoster()
	c.log.Debug("Client handler stopped", "cause", cause)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError logs the reason a read loop ended at a level matching how
// surprising it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket close", "error", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("Rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() error {
	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return fmt.Errorf("read: %w", err)
		}

		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame", "type", messageType)
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

// processMessage decodes a raw client frame and applies it. Malformed
// frames are dropped; the connection stays open.
func (c *Client) processMessage(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.log.Debug("Discarding malformed frame", "error", err)
		return
	}
	c.handleEnvelope(env)
}

func (c *Client) handleEnvelope(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindRegister:
		name, ok := env.Payload()
		if !ok {
			c.log.Debug("Ignoring register without a name")
			return
		}
		c.hub.registry.Register(c.id, name)
		c.state.Store(StateRegistered)
		c.log.Info("Client registered", "name", name)
		c.hub.publishRoster()

	case protocol.KindTyping:
		name, ok := env.Payload()
		if !ok {
			c.log.Debug("Ignoring typing notice without a name")
			return
		}
		c.hub.Publish(protocol.Typing(name))

	case protocol.KindMessage:
		text, ok := env.Payload()
		if !ok {
			c.log.Debug("Ignoring message without text")
			return
		}
		from, ok := c.hub.registry.Resolve(c.id)
		if !ok {
			from = AnonymousName
		}
		c.hub.Publish(protocol.Message(protocol.NewChatRecord(from, text, time.Now())))

	case protocol.KindUsers:
		c.log.Debug("Ignoring server-only users frame from client")

	default:
		c.log.Debug("Ignoring unrecognized message type", "kind", env.Kind)
	}
}

func (c *Client) writePump(ctx context.Context) error {
	defer c.closeConnection()

	nextPing := time.Now().Add(pingPeriod)
	for {
		frame, err := c.nextFrame(ctx, nextPing)
		switch {
		case err == nil:
			if err := c.writeText(frame); err != nil {
				return err
			}
		case errors.Is(err, fanout.ErrLagged):
			c.log.Warn("Client fell behind the broadcast stream", "error", err)
		case errors.Is(err, errPingDue):
			if err := c.writePing(); err != nil {
				return err
			}
			nextPing = time.Now().Add(pingPeriod)
		default:
			c.writeCloseMessage()
			return err
		}
	}
}

// nextFrame waits for a broadcast frame, reporting errPingDue if pingAt
// passes first.
func (c *Client) nextFrame(ctx context.Context, pingAt time.Time) (fanout.Frame, error) {
	waitCtx, cancel := context.WithDeadline(ctx, pingAt)
	defer cancel()

	frame, err := c.sub.Recv(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", errPingDue
	}
	return frame, err
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error closing connection", "error", err)
	}
}

// writeText sends one broadcast frame as its own text message.
func (c *Client) writeText(frame fanout.Frame) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// writeCloseMessage tells the peer we are going away. Failures are
// expected when the peer already closed.
func (c *Client) writeCloseMessage() {
	code := websocket.CloseNormalClosure
	if c.hub.ctx.Err() != nil {
		code = websocket.CloseGoingAway
	}
	msg := websocket.FormatCloseMessage(code, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("Error writing close message", "error", err)
		}
	}
}

// writePing sends a ping message to keep the connection alive
func (c *Client) writePing() error {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error writing ping message", "error", err)
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
