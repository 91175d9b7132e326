package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536

	// sendBufferSize bounds per-connection backpressure; a
	// persistently slow client accumulates up to this many frames
	// before Send starts dropping.
	sendBufferSize = 256

	// inboundRatePerSec and inboundBurst bound how fast one connection
	// can push frames into the dispatcher, protecting it from an
	// abusive or malfunctioning client.
	inboundRatePerSec = 50
	inboundBurst      = 100
)

// Client wraps one WebSocket connection: a single reader goroutine, a
// single writer goroutine draining a buffered channel, and the
// connection_id/user_id pair the rest of the real-time plane keys on.
type Client struct {
	conn         *websocket.Conn
	dispatcher   *Dispatcher
	send         chan []byte
	connectionID string
	userID       string
	logger       *slog.Logger
	limiter      *rate.Limiter
}

func newClient(conn *websocket.Conn, dispatcher *Dispatcher, connectionID, userID string, logger *slog.Logger) *Client {
	return &Client{
		conn:         conn,
		dispatcher:   dispatcher,
		send:         make(chan []byte, sendBufferSize),
		connectionID: connectionID,
		userID:       userID,
		logger:       logger,
		limiter:      rate.NewLimiter(rate.Limit(inboundRatePerSec), inboundBurst),
	}
}

// ConnectionID implements registry.Sink.
func (c *Client) ConnectionID() string { return c.connectionID }

// Send implements registry.Sink. It never blocks: a full buffer drops
// the frame and logs a warning.
func (c *Client) Send(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("client send buffer full, dropping frame",
			"connection_id", c.connectionID, "user_id", c.userID)
	}
}

func (c *Client) sendEnvelope(eventType string, data interface{}) {
	frame, err := newEnvelope(eventType, data)
	if err != nil {
		c.logger.Error("failed to marshal outbound envelope", "type", eventType, "error", err)
		return
	}
	c.Send(frame)
}

// ReadPump owns the read side of the connection and feeds parsed
// envelopes to the dispatcher. Runs until the socket closes or ctx is
// cancelled, then triggers disconnect cleanup via the dispatcher.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.dispatcher.handleDisconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "connection_id", c.connectionID, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed JSON is silently ignored.
			continue
		}

		c.dispatcher.dispatch(c, env)
	}
}

// WritePump drains the outbound buffer to the socket, serializing all
// writes behind this single goroutine so interleaving is impossible.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
