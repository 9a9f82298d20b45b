package websocket

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxLifetime    = 2 * time.Hour
)

// Client is a checkout page subscribed to one payment topic. The socket is
// write-only and is closed once a final status has been delivered.
type Client struct {
	hub   *Hub
	conn  *ws.Conn
	topic string
	send  chan []byte
}

func NewClient(hub *Hub, conn *ws.Conn, topic string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		topic: topic,
		send:  make(chan []byte, sendBufferSize),
	}
}

// Run subscribes the client and blocks until the connection ends. current,
// if not nil, is consulted once the client is registered; a final status it
// returns is delivered right away, so a subscriber arriving after the
// broadcast is not left waiting.
func (c *Client) Run(ctx context.Context, current func(context.Context) *Message) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	if current != nil {
		if msg := current(ctx); msg != nil {
			c.enqueue(*msg)
		}
	}

	// CloseRead answers pings and closes; its context ends with the peer.
	ctx, cancel := context.WithTimeout(c.conn.CloseRead(ctx), maxLifetime)
	defer cancel()

	code, reason := c.deliver(ctx)
	c.conn.Close(code, reason)
}

func (c *Client) deliver(ctx context.Context) (ws.StatusCode, string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return ws.StatusGoingAway, "unsubscribed"
			}
			if err := c.write(ctx, msg); err != nil {
				return ws.StatusInternalError, "write failed"
			}
			if isFinal(msg) {
				return ws.StatusNormalClosure, "payment settled"
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return ws.StatusGoingAway, "ping failed"
			}
		case <-ctx.Done():
			return ws.StatusGoingAway, "closing"
		}
	}
}

func (c *Client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}

// isFinal reports whether msg carries a status no later message can change.
func isFinal(msg []byte) bool {
	var m struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(msg, &m) != nil {
		return false
	}
	return m.Status == StatusPaid || m.Status == StatusCancelled
}
