package relay

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/signal"
)

// ErrRoleTaken is returned when a session already has a member with the
// joining client's role.
var ErrRoleTaken = errors.New("relay: role already present in session")

// sendBufferSize bounds the per-client outgoing queue. A client that
// cannot drain it loses frames rather than stalling the whole room.
const sendBufferSize = 64

// Client is one websocket member of a session room. A single read loop
// and a single write pump per client keep per-sender frame order intact.
type Client struct {
	id        string
	sessionID string
	role      config.Role
	conn      *websocket.Conn
	hub       *Hub
	logger    *logrus.Entry

	mu     sync.Mutex // guards send against enqueue-after-close
	send   chan []byte
	closed bool
}

// NewClient wraps an upgraded websocket connection.
func NewClient(hub *Hub, sessionID string, role config.Role, conn *websocket.Conn, logger *logrus.Entry) *Client {
	id := uuid.New().String()
	return &Client{
		id:        id,
		sessionID: sessionID,
		role:      role,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		hub:       hub,
		logger:    logger.WithField("client", id),
	}
}

// Run services the connection until it dies, then evicts the client from
// its room. It blocks in the read loop; the write pump runs alongside.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()

	c.hub.Leave(c)

	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.conn.Close()
}

// readPump decodes inbound envelopes and hands them to the hub. The relay
// stamps the sender role itself: a client cannot impersonate the other
// side, and receivers can rely on the role for echo suppression.
func (c *Client) readPump() {
	for {
		var env signal.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Debug("read loop terminated")
			}
			return
		}

		if !env.Type.Valid() {
			c.logger.Warnf("dropping envelope with unknown type %q", env.Type)
			continue
		}
		env.SenderRole = c.role

		c.hub.Broadcast(c, env)
	}
}

// writePump is the single writer for the connection.
func (c *Client) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.WithError(err).Debug("write failed")
			return
		}
	}
}

// enqueue queues a frame for delivery, dropping it when the client's
// buffer is full.
func (c *Client) enqueue(frame signal.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.WithError(err).Warn("failed to encode frame")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping frame")
	}
}
