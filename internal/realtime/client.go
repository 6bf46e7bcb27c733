package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20

	// sendBuffer bounds per-connection backlog. A client that cannot keep
	// up is disconnected rather than served out of order.
	sendBuffer = 64
)

// Client is one websocket connection bound to a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger

	userID string
	// projectID is set after a successful join and read only by the hub
	// goroutine.
	projectID string

	send chan Envelope
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		logger: logger,
		userID: userID,
		send:   make(chan Envelope, sendBuffer),
	}
}

// enqueue places an envelope on the client's send queue. It reports false
// when the queue is full, which the hub treats as a dead connection.
func (c *Client) enqueue(env Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// readPump reads frames off the socket and forwards them to the hub, one at
// a time, so a connection's messages are always processed in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed frames are reported through the hub so only the
			// hub goroutine ever touches the send queue.
			env = Envelope{}
		}
		metrics.ObserveRealtimeMessage(env.Event, "in")
		c.hub.inbound <- inboundMessage{client: c, envelope: env}
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
			metrics.ObserveRealtimeMessage(env.Event, "out")
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendError(code, message string) {
	env, err := NewEnvelope(EventError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(env)
}
