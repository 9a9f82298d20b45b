package websocket

import (
	"context"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/coursepay/internal/model"
)

// PurchaseLookup finds the purchase behind a topic. Implemented by
// *store.PurchaseStore.
type PurchaseLookup interface {
	GetByBillingID(ctx context.Context, billingID string) (*model.Purchase, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Purchase, error)
}

// HandlePaymentStatus upgrades the connection and subscribes it to the
// {billingId} path value, which may also be the purchase's external id. The
// buyer's checkout page keeps it open until a final status arrives; if the
// purchase is already settled that status is sent at once.
func HandlePaymentStatus(hub *Hub, purchases PurchaseLookup, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := r.PathValue("billingId")
		if topic == "" {
			http.Error(w, "missing billing id", http.StatusBadRequest)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // checkout pages are served from other origins
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		var current func(context.Context) *Message
		if purchases != nil {
			current = func(ctx context.Context) *Message {
				return settled(ctx, purchases, topic, logger)
			}
		}
		NewClient(hub, conn, topic).Run(r.Context(), current)
	}
}

// settled returns the final status message for topic, or nil while the
// purchase is pending or unknown.
func settled(ctx context.Context, purchases PurchaseLookup, topic string, logger *slog.Logger) *Message {
	p, err := purchases.GetByBillingID(ctx, topic)
	if err == nil && p == nil {
		p, err = purchases.GetByExternalID(ctx, topic)
	}
	if err != nil {
		logger.Warn("websocket status lookup", "topic", topic, "error", err)
		return nil
	}
	if p == nil || p.Status == model.PurchaseStatusPending {
		return nil
	}
	msg := StatusMessage(p)
	return &msg
}
