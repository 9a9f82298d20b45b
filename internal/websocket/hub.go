package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/coursepay/internal/model"
)

// Final statuses. A client is disconnected after receiving either.
const (
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

// Message is a payment status update pushed to subscribers of a topic.
type Message struct {
	Type       string    `json:"type"`
	ExternalID string    `json:"external_id,omitempty"`
	BillingID  string    `json:"billing_id,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// StatusMessage describes a purchase's current status.
func StatusMessage(p *model.Purchase) Message {
	typ := "payment_pending"
	switch p.Status {
	case model.PurchaseStatusPaid:
		typ = "payment_confirmed"
	case model.PurchaseStatusCancelled:
		typ = "payment_cancelled"
	}
	msg := Message{
		Type:       typ,
		ExternalID: p.ExternalID,
		Status:     string(p.Status),
		At:         time.Now().UTC(),
	}
	if p.BillingID != nil {
		msg.BillingID = *p.BillingID
	}
	return msg
}

// Hub tracks subscribers per topic. A topic is a billing id or an external id.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register subscribes a client to its topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	subs, ok := h.topics[c.topic]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[c.topic] = subs
	}
	subs[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from its topic and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if subs, ok := h.topics[c.topic]; ok {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			close(c.send)
		}
		if len(subs) == 0 {
			delete(h.topics, c.topic)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a message to every subscriber of topic.
func (h *Hub) Broadcast(topic string, msg Message) {
	if topic == "" {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.topics[topic] {
		select {
		case c.send <- data:
		default:
			// buffer full, drop
		}
	}
}

// ClientCount returns the number of connected clients across all topics.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}
