package abacatepay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WebhookEvent is the part of a webhook delivery the confirmation path needs.
type WebhookEvent struct {
	ID         string
	Event      string
	BillingID  string
	ExternalID string
	Status     string
	DevMode    bool
}

type webhookPayload struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	DevMode bool   `json:"devMode"`
	Data    struct {
		PixQRCode *struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"pixQrCode"`
		Billing *struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			ExternalID string `json:"externalId"`
		} `json:"billing"`
	} `json:"data"`

	// Flat form sent by older integrations and manual replays.
	BillingID  string `json:"billingId"`
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
}

// ParseWebhook extracts the billing id, external id and status from a webhook
// body. Both the enveloped {event, data:{pixQrCode|billing}} form and a flat
// {billingId, externalId, status} form are accepted.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	ev := &WebhookEvent{
		ID:         p.ID,
		Event:      p.Event,
		DevMode:    p.DevMode,
		BillingID:  p.BillingID,
		ExternalID: p.ExternalID,
		Status:     p.Status,
	}
	if pix := p.Data.PixQRCode; pix != nil {
		ev.BillingID = firstNonEmpty(pix.ID, ev.BillingID)
		ev.Status = firstNonEmpty(pix.Status, ev.Status)
		ev.ExternalID = firstNonEmpty(pix.Metadata["externalId"], ev.ExternalID)
	}
	if b := p.Data.Billing; b != nil {
		ev.BillingID = firstNonEmpty(b.ID, ev.BillingID)
		ev.Status = firstNonEmpty(b.Status, ev.Status)
		ev.ExternalID = firstNonEmpty(b.ExternalID, ev.ExternalID)
	}

	if ev.BillingID == "" && ev.ExternalID == "" {
		return nil, errors.New("webhook carries neither billing id nor external id")
	}
	return ev, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
