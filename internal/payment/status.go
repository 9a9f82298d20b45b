package payment

import "strings"

// Status is the gateway-agnostic payment state.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

var gatewayStatuses = map[string]Status{
	"paid":             StatusPaid,
	"approved":         StatusPaid,
	"completed":        StatusPaid,
	"payment.approved": StatusPaid,
	"billing.paid":     StatusPaid,
	"pix.paid":         StatusPaid,

	"pending":    StatusPending,
	"created":    StatusPending,
	"waiting":    StatusPending,
	"processing": StatusPending,

	"cancelled":       StatusCancelled,
	"canceled":        StatusCancelled,
	"expired":         StatusCancelled,
	"refunded":        StatusCancelled,
	"failed":          StatusCancelled,
	"payment.failed":  StatusCancelled,
	"billing.expired": StatusCancelled,
}

// NormalizeGatewayStatus maps a gateway status or event name onto Status.
// Matching is case-insensitive; anything unrecognized is StatusUnknown.
func NormalizeGatewayStatus(raw string) Status {
	if s, ok := gatewayStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusUnknown
}
