package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/payment"
	"github.com/dukerupert/coursepay/internal/store"
)

type PurchaseHandler struct {
	svc       *payment.Service
	purchases *store.PurchaseStore
	logger    *slog.Logger
}

func NewPurchaseHandler(svc *payment.Service, purchases *store.PurchaseStore, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{svc: svc, purchases: purchases, logger: logger}
}

type createPurchaseRequest struct {
	CourseID      string             `json:"course_id"`
	Amount        decimal.Decimal    `json:"amount"`
	PaymentMethod string             `json:"payment_method"`
	ExternalID    string             `json:"external_id"`
	AccountID     string             `json:"account_id"`
	Password      string             `json:"password"`
	Buyer         model.BuyerContact `json:"buyer"`
}

// purchaseView is what checkout callers see of a purchase. Buyer contact
// details and account links stay behind the admin routes.
type purchaseView struct {
	ExternalID    string               `json:"external_id"`
	CourseID      string               `json:"course_id"`
	Status        model.PurchaseStatus `json:"status"`
	BillingID     *string              `json:"billing_id"`
	Amount        decimal.Decimal      `json:"amount"`
	PaymentMethod model.PaymentMethod  `json:"payment_method"`
	PaidAt        *time.Time           `json:"paid_at"`
	CreatedAt     time.Time            `json:"created_at"`
}

func newPurchaseView(p *model.Purchase) purchaseView {
	return purchaseView{
		ExternalID:    p.ExternalID,
		CourseID:      p.CourseID,
		Status:        p.Status,
		BillingID:     p.BillingID,
		Amount:        p.Amount,
		PaymentMethod: p.PaymentMethod,
		PaidAt:        p.PaidAt,
		CreatedAt:     p.CreatedAt,
	}
}

// Create starts a purchase. Replaying an external id returns the stored
// purchase with 200 instead of 201.
func (h *PurchaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, created, err := h.svc.CreatePurchase(r.Context(), payment.PurchaseRequest{
		CourseID:      req.CourseID,
		Amount:        req.Amount,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		ExternalID:    req.ExternalID,
		AccountID:     req.AccountID,
		Password:      req.Password,
		Buyer:         req.Buyer,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, newPurchaseView(p))
}

func (h *PurchaseHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.OpenSession(r.Context(), r.PathValue("externalId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	if p := h.lookup(w, r); p != nil {
		writeJSON(w, http.StatusOK, newPurchaseView(p))
	}
}

// AdminGet returns the full stored purchase.
func (h *PurchaseHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	if p := h.lookup(w, r); p != nil {
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *PurchaseHandler) lookup(w http.ResponseWriter, r *http.Request) *model.Purchase {
	p, err := h.purchases.GetByExternalID(r.Context(), r.PathValue("externalId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil
	}
	if p == nil {
		writeServiceError(w, h.logger, store.ErrNotFound)
		return nil
	}
	return p
}
