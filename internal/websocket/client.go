// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/rendezvous/internal/logging"
	"github.com/tomtom215/rendezvous/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// clientIDCounter hands out connection ids. Ids are never reused within a
// process, so they double as a stable sort key.
var clientIDCounter atomic.Uint64

var (
	errSendClosed = errors.New("client closed")
	errSendFull   = errors.New("send buffer full")
)

// Client is one socket connection bound to a chat identity.
type Client struct {
	id            uint64
	userID        string
	correlationID string
	hub           *Hub
	conn          *websocket.Conn
	limiter       *rate.Limiter

	mu     sync.Mutex
	closed bool
	send   chan Message
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:            clientIDCounter.Add(1),
		userID:        userID,
		correlationID: logging.GenerateCorrelationID(),
		hub:           hub,
		conn:          conn,
		limiter:       rate.NewLimiter(hub.inboundRate, hub.inboundBurst),
		send:          make(chan Message, hub.sendBuffer),
	}
}

// ID returns the connection id.
func (c *Client) ID() uint64 {
	return c.id
}

// UserID returns the identity supplied at handshake.
func (c *Client) UserID() string {
	return c.userID
}

// enqueue queues msg without blocking.
func (c *Client) enqueue(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errSendClosed
	}
	select {
	case c.send <- msg:
		metrics.WSMessagesSent.Inc()
		return nil
	default:
		return errSendFull
	}
}

// close stops delivery. The write pump sends a close frame once the queue
// drains.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump decodes inbound frames and dispatches them in receipt order.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				metrics.WSErrors.WithLabelValues("read").Inc()
				logging.Warn().Err(err).Uint64("conn_id", c.id).Str("user_id", c.userID).Msg("unexpected websocket close")
			}
			return
		}
		c.hub.handleFrame(c, data)
	}
}

// writePump serializes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(message)
			if err != nil {
				metrics.WSErrors.WithLabelValues("encode").Inc()
				logging.Error().Err(err).Str("event", message.Type.String()).Msg("failed to encode websocket frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				// Transport failure: drop the connection from every room now.
				c.hub.unregister(c)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// Start launches the pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
