package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/coursepay/internal/abacatepay"
	"github.com/dukerupert/coursepay/internal/payment"
)

// SecretVerifier checks the shared webhook secret. Implemented by
// *abacatepay.Client.
type SecretVerifier interface {
	VerifyWebhookSecret(got string) bool
}

type WebhookHandler struct {
	svc      *payment.Service
	verifier SecretVerifier
	logger   *slog.Logger
}

func NewWebhookHandler(svc *payment.Service, verifier SecretVerifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, verifier: verifier, logger: logger}
}

// HandleAbacatePay receives gateway webhooks. Past the secret check it always
// answers 200 so the gateway does not retry payloads we cannot use; the
// reconciliation sweep covers anything dropped here.
func (h *WebhookHandler) HandleAbacatePay(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if secret == "" {
		secret = r.URL.Query().Get("webhookSecret")
	}
	if !h.verifier.VerifyWebhookSecret(secret) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("read webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, err := abacatepay.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("unusable webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if ev.DevMode {
		h.logger.Info("dev mode webhook", "event", ev.Event, "billing_id", ev.BillingID)
	}

	if err := h.svc.HandleWebhook(r.Context(), ev); err != nil {
		h.logger.Error("process webhook",
			"event", ev.Event,
			"billing_id", ev.BillingID,
			"external_id", ev.ExternalID,
			"dev_mode", ev.DevMode,
			"error", err,
		)
	}
	w.WriteHeader(http.StatusOK)
}
