package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/payment"
)

type PaymentHandler struct {
	svc    *payment.Service
	logger *slog.Logger
}

func NewPaymentHandler(svc *payment.Service, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

// Status is polled by the checkout page while the buyer pays.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	billingID := r.PathValue("billingId")
	st, err := h.svc.CheckStatus(r.Context(), billingID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"billing_id": billingID,
		"status":     string(st),
	})
}

type confirmResponse struct {
	Purchase       *model.Purchase `json:"purchase"`
	WasAlreadyPaid bool            `json:"was_already_paid"`
	Fulfilled      bool            `json:"fulfilled"`
	Enrolled       bool            `json:"enrolled"`
	Notified       bool            `json:"notified"`
}

// Confirm marks a purchase paid by hand, e.g. after checking the gateway
// dashboard.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("externalId")
	conf, err := h.svc.ConfirmPayment(r.Context(), externalID, model.ByExternalID, metrics.SourceManual)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("manual confirmation", "external_id", externalID, "was_already_paid", conf.WasAlreadyPaid)
	writeJSON(w, http.StatusOK, confirmResponse{
		Purchase:       conf.Purchase,
		WasAlreadyPaid: conf.WasAlreadyPaid,
		Fulfilled:      conf.Fulfilled,
		Enrolled:       conf.Enrolled,
		Notified:       conf.Notified,
	})
}
