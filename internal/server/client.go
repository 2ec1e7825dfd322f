// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/safechat/internal/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Client is one authenticated WebSocket connection. Its session id is unique
// for the lifetime of the connection; identity is the username from the
// token presented at upgrade time.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	handler        *protocol.Handler
	session        string
	identity       string
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
}

// NewClient creates a Client for an upgraded connection. The send channel is
// buffered to absorb short bursts of fan-out.
func NewClient(conn *websocket.Conn, hub *Hub, handler *protocol.Handler, cfg *Config, session, identity, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		handler:        handler,
		session:        session,
		identity:       identity,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		log:            hub.log.With("session", session, "identity", identity),
	}
}

// Session returns the session id of the connection.
func (c *Client) Session() string {
	return c.session
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

// logReadError logs the reason the read loop ended at the right level.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket error", "error", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit reports whether the frame may be processed. A flood is
// logged at warn level once; the frames that follow it only at debug.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	ok, retryAfter, dropped := c.rateLimiter.take()
	switch {
	case ok:
		return true
	case dropped == 1:
		c.log.Warn("Rate limit exceeded; discarding messages",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval, "retry_after", retryAfter)
	default:
		c.log.Debug("Message discarded by rate limit", "dropped", dropped, "retry_after", retryAfter)
	}
	return false
}

// reject tells the client its frame could not be handled.
func (c *Client) reject(ctx context.Context, topic, content string) {
	event := protocol.ErrorEvent(topic, protocol.StatusBadRequest, content)
	if err := c.hub.SendToSession(ctx, c.session, event); err != nil {
		c.log.Debug("Failed to send rejection", "error", err)
	}
}

// processMessage decodes a frame and dispatches it to the protocol handler.
// It returns true if the handler accepted the frame.
func (c *Client) processMessage(ctx context.Context, rawMessage []byte) bool {
	var frame Frame
	if err := json.Unmarshal(rawMessage, &frame); err != nil {
		c.log.Warn("Invalid frame", "error", err)
		c.reject(ctx, "", "Malformed message.")
		return false
	}

	topic := frame.Topic
	if topic == "" {
		topic = c.handler.DefaultTopic()
	}

	var err error
	switch frame.Type {
	case protocol.TypeJoin:
		_, err = c.handler.Join(ctx, c.session, topic, frame.event())
	case protocol.TypeChat:
		err = c.handler.Chat(ctx, c.session, topic, frame.event())
	case protocol.TypeLeave:
		err = c.handler.Part(ctx, c.session, topic)
	default:
		c.log.Warn("Unknown frame type", "type", frame.Type)
		c.reject(ctx, topic, "Unknown message type.")
		return false
	}

	if err != nil {
		c.log.Debug("Frame not applied", "type", frame.Type, "topic", topic, "error", err)
		return false
	}
	return true
}

func (c *Client) readPump() {
	ctx := context.Background()
	defer func() {
		c.hub.unregisterClient(c)
		c.closeConnection()
		if err := c.handler.Disconnected(ctx, c.session); err != nil {
			c.log.Warn("Disconnect cleanup failed", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(ctx, rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection", "error", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes one event per WebSocket frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("Error writing ping message", "error", err)
		return false
	}
	return true
}
