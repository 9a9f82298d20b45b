package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/store"
)

type AccountHandler struct {
	accounts    *store.AccountStore
	enrollments *store.EnrollmentStore
	purchases   *store.PurchaseStore
	logger      *slog.Logger
}

func NewAccountHandler(accounts *store.AccountStore, enrollments *store.EnrollmentStore, purchases *store.PurchaseStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, enrollments: enrollments, purchases: purchases, logger: logger}
}

type accountDetail struct {
	Account     *model.Account     `json:"account"`
	Profile     *model.Profile     `json:"profile"`
	Enrollments []model.Enrollment `json:"enrollments"`
	Purchases   []model.Purchase   `json:"purchases"`
}

// Get returns an account with its profile, enrollments and purchases, for
// support staff answering a buyer.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.accounts.GetByID(ctx, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "not_found", "account not found")
		return
	}

	d := accountDetail{Account: a, Enrollments: []model.Enrollment{}, Purchases: []model.Purchase{}}
	if d.Profile, err = h.accounts.GetProfile(ctx, a.ID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	enrollments, err := h.enrollments.ListByAccount(ctx, a.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if enrollments != nil {
		d.Enrollments = enrollments
	}
	purchases, err := h.purchases.ListByAccount(ctx, a.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if purchases != nil {
		d.Purchases = purchases
	}
	writeJSON(w, http.StatusOK, d)
}

// Purchases lists the account's purchases, newest first.
func (h *AccountHandler) Purchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.purchases.ListByAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	writeJSON(w, http.StatusOK, purchases)
}
