package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusPaid      PurchaseStatus = "paid"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentMethodPix  PaymentMethod = "pix"
	PaymentMethodCard PaymentMethod = "card"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodPix || m == PaymentMethodCard
}

// BuyerContact is the contact info captured at purchase time. It is a
// snapshot, not a reference to the account's profile.
type BuyerContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	TaxID string `json:"tax_id"`
}

type Purchase struct {
	ID            string          `json:"id"`
	CourseID      string          `json:"course_id"`
	Buyer         BuyerContact    `json:"buyer"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	ExternalID    string          `json:"external_id"`
	BillingID     *string         `json:"billing_id"`
	Status        PurchaseStatus  `json:"status"`
	AccountID     *string         `json:"account_id"`
	PasswordHash  *string         `json:"-"`
	PaidAt        *time.Time      `json:"paid_at"`
	EnrolledAt    *time.Time      `json:"enrolled_at"`
	FulfilledAt   *time.Time      `json:"fulfilled_at"`
	NotifiedAt    *time.Time      `json:"notified_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IdentifierKind selects which purchase column an identifier refers to.
type IdentifierKind string

const (
	ByExternalID IdentifierKind = "external_id"
	ByBillingID  IdentifierKind = "billing_id"
)
