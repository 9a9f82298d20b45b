package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/coursepay/internal/abacatepay"
	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/store"
	"github.com/dukerupert/coursepay/internal/websocket"
)

var (
	ErrMissingCourse        = errors.New("course id is required")
	ErrCourseNotFound       = errors.New("course not found")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidPaymentMethod = errors.New("payment method must be pix or card")
	ErrGateway              = errors.New("payment gateway error")
)

// Gateway is the subset of the AbacatePay client the workflow uses.
type Gateway interface {
	CreatePixQRCode(ctx context.Context, req abacatepay.PixQRCodeRequest) (*abacatepay.PixQRCode, error)
	CreateBilling(ctx context.Context, req abacatepay.BillingRequest) (*abacatepay.Billing, error)
	CheckStatus(ctx context.Context, billingID string) (string, error)
}

// Broadcaster pushes status updates to checkout pages. Implemented by
// *websocket.Hub.
type Broadcaster interface {
	Broadcast(topic string, msg websocket.Message)
}

// Service runs the purchase workflow: checkout, gateway sessions and the
// single confirmation path shared by webhook, poll, manual confirm and sweep.
type Service struct {
	purchases   *store.PurchaseStore
	courses     *store.CourseStore
	enrollments *store.EnrollmentStore
	resolver    *Resolver
	notifier    *Notifier
	gateway     Gateway
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger

	pixExpiresIn   int
	gatewayTimeout time.Duration
}

type Option func(*Service)

func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		s.broadcaster = b
	}
}

// WithPixExpiresIn sets the lifetime of PIX QR codes in seconds.
func WithPixExpiresIn(seconds int) Option {
	return func(s *Service) {
		s.pixExpiresIn = seconds
	}
}

// WithGatewayTimeout bounds each status check against the gateway.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.gatewayTimeout = d
	}
}

func NewService(
	purchases *store.PurchaseStore,
	courses *store.CourseStore,
	enrollments *store.EnrollmentStore,
	resolver *Resolver,
	notifier *Notifier,
	gateway Gateway,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		purchases:      purchases,
		courses:        courses,
		enrollments:    enrollments,
		resolver:       resolver,
		notifier:       notifier,
		gateway:        gateway,
		metrics:        m,
		logger:         logger,
		pixExpiresIn:   3600,
		gatewayTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PurchaseRequest is a buyer's request to start a purchase.
type PurchaseRequest struct {
	CourseID      string
	Amount        decimal.Decimal
	PaymentMethod model.PaymentMethod
	ExternalID    string
	AccountID     string
	Password      string
	Buyer         model.BuyerContact
}

// CreatePurchase validates the request and stores a pending purchase. A
// request repeating an existing external id returns the stored purchase with
// created=false.
func (s *Service) CreatePurchase(ctx context.Context, req PurchaseRequest) (*model.Purchase, bool, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	if req.CourseID == "" {
		return nil, false, ErrMissingCourse
	}
	if !req.Amount.IsPositive() {
		return nil, false, ErrInvalidAmount
	}
	req.PaymentMethod = model.PaymentMethod(strings.ToLower(string(req.PaymentMethod)))
	if !req.PaymentMethod.Valid() {
		return nil, false, ErrInvalidPaymentMethod
	}
	if store.NormalizeEmail(req.Buyer.Email) == "" {
		return nil, false, ErrMissingEmail
	}

	course, err := s.courses.GetByID(ctx, req.CourseID)
	if err != nil {
		return nil, false, err
	}
	if course == nil {
		return nil, false, ErrCourseNotFound
	}

	np := store.NewPurchase{
		CourseID:      course.ID,
		Buyer:         req.Buyer,
		Amount:        req.Amount.Round(2),
		PaymentMethod: req.PaymentMethod,
		ExternalID:    strings.TrimSpace(req.ExternalID),
	}
	np.Buyer.Email = strings.TrimSpace(np.Buyer.Email)
	if np.ExternalID == "" {
		np.ExternalID = uuid.NewString()
	}
	if req.AccountID != "" {
		np.AccountID = &req.AccountID
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.resolver.bcryptCost)
		if err != nil {
			return nil, false, fmt.Errorf("hash password: %w", err)
		}
		h := string(hash)
		np.PasswordHash = &h
	}

	p, created, err := s.purchases.Create(ctx, np)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.metrics.PurchaseCreated(string(p.PaymentMethod))
		s.logger.Info("purchase created", "purchase_id", p.ID, "external_id", p.ExternalID, "method", p.PaymentMethod)
	}
	return p, created, nil
}

// Session is an open gateway payment session for a purchase.
type Session struct {
	BillingID    string     `json:"billing_id"`
	BRCode       string     `json:"br_code,omitempty"`
	BRCodeBase64 string     `json:"br_code_base64,omitempty"`
	URL          string     `json:"url,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// OpenSession opens a PIX QR code or a hosted card billing for a pending
// purchase and attaches the gateway id to it.
func (s *Service) OpenSession(ctx context.Context, externalID string) (*Session, error) {
	p, err := s.purchases.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, store.ErrNotFound
	}
	switch p.Status {
	case model.PurchaseStatusPaid:
		return nil, store.ErrAlreadyPaid
	case model.PurchaseStatusCancelled:
		return nil, store.ErrNotPending
	}

	course, err := s.courses.GetByID(ctx, p.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, ErrCourseNotFound
	}

	cents := p.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	customer := &abacatepay.Customer{
		Name:      p.Buyer.Name,
		Cellphone: p.Buyer.Phone,
		Email:     p.Buyer.Email,
		TaxID:     p.Buyer.TaxID,
	}

	var sess Session
	switch p.PaymentMethod {
	case model.PaymentMethodPix:
		qr, err := s.gateway.CreatePixQRCode(ctx, abacatepay.PixQRCodeRequest{
			Amount:      cents,
			ExpiresIn:   s.pixExpiresIn,
			Description: course.Title,
			Customer:    customer,
			Metadata:    map[string]string{"externalId": p.ExternalID},
		})
		if err != nil {
			s.metrics.GatewayError("create_pix")
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		sess = Session{BillingID: qr.ID, BRCode: qr.BRCode, BRCodeBase64: qr.BRCodeBase64}
		if !qr.ExpiresAt.IsZero() {
			sess.ExpiresAt = &qr.ExpiresAt
		}
	default:
		b, err := s.gateway.CreateBilling(ctx, abacatepay.BillingRequest{
			Methods: []string{"CARD"},
			Products: []abacatepay.Product{{
				ExternalID: course.ID,
				Name:       course.Title,
				Quantity:   1,
				Price:      cents,
			}},
			Customer:   customer,
			ExternalID: p.ExternalID,
		})
		if err != nil {
			s.metrics.GatewayError("create_billing")
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		sess = Session{BillingID: b.ID, URL: b.URL}
	}

	if err := s.purchases.AttachBillingID(ctx, p.ExternalID, sess.BillingID); err != nil {
		return nil, err
	}
	s.logger.Info("payment session opened", "external_id", p.ExternalID, "billing_id", sess.BillingID)
	return &sess, nil
}

// Confirmation is the result of ConfirmPayment.
type Confirmation struct {
	Purchase       *model.Purchase
	WasAlreadyPaid bool
	Fulfilled      bool
	Enrolled       bool
	Notified       bool
}

// ConfirmPayment marks a purchase paid and, for the one caller that flips it,
// resolves the account, grants the enrollment and notifies the buyer. Later
// callers get WasAlreadyPaid and cause no side effects. A fulfillment
// failure is logged and left for the reconciliation sweep; the purchase
// stays paid.
func (s *Service) ConfirmPayment(ctx context.Context, identifier string, kind model.IdentifierKind, source string) (*Confirmation, error) {
	res, err := s.purchases.MarkPaidIfPending(ctx, identifier, kind)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.metrics.Confirmation(source, metrics.OutcomeNotFound)
		return nil, err
	case errors.Is(err, store.ErrNotPending):
		s.metrics.Confirmation(source, metrics.OutcomeNotPending)
		return nil, err
	case err != nil:
		s.metrics.Confirmation(source, metrics.OutcomeError)
		return nil, err
	}

	p := res.Purchase
	if res.WasAlreadyPaid {
		s.metrics.Confirmation(source, metrics.OutcomeAlreadyPaid)
		s.logger.Debug("purchase already paid", "purchase_id", p.ID, "source", source)
		return &Confirmation{Purchase: p, WasAlreadyPaid: true, Fulfilled: p.FulfilledAt != nil}, nil
	}

	s.metrics.Confirmation(source, metrics.OutcomeConfirmed)
	s.logger.Info("payment confirmed", "purchase_id", p.ID, "external_id", p.ExternalID, "source", source)

	f, err := s.fulfill(ctx, p)
	conf := &Confirmation{Purchase: p, Fulfilled: err == nil, Enrolled: f.enrolled, Notified: f.notified}
	if err != nil {
		s.metrics.FulfillmentError()
		s.logger.Error("fulfill purchase", "purchase_id", p.ID, "error", err)
	}

	s.announce(p)
	return conf, nil
}

type fulfillment struct {
	enrolled bool
	notified bool
}

// fulfill is idempotent, so the sweep may rerun it for a purchase whose first
// attempt failed midway. Whether the buyer is owed a message is decided from
// stored state: the purchase that created the enrollment (enrolled_at) owns
// the notification, and notified_at makes sure it goes out once. fulfilled_at
// is stamped last so any earlier failure leaves the purchase for the sweep.
func (s *Service) fulfill(ctx context.Context, p *model.Purchase) (fulfillment, error) {
	id, err := s.resolver.Resolve(ctx, p)
	if err != nil {
		return fulfillment{}, fmt.Errorf("resolve account: %w", err)
	}

	created, err := s.enrollments.GrantForPurchase(ctx, p.ID, id.AccountID, p.CourseID)
	if err != nil {
		return fulfillment{}, fmt.Errorf("grant enrollment: %w", err)
	}
	f := fulfillment{enrolled: created}

	if created || p.EnrolledAt != nil {
		claimed, err := s.purchases.ClaimNotification(ctx, p.ID)
		if err != nil {
			return f, err
		}
		if claimed {
			s.notify(ctx, p, id)
			f.notified = true
		}
	}

	if err := s.purchases.MarkFulfilled(ctx, p.ID); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Service) notify(ctx context.Context, p *model.Purchase, id Identity) {
	note := Notification{Purchase: p, Credentials: id.Credentials}
	if c, err := s.courses.GetByID(ctx, p.CourseID); err == nil && c != nil {
		note.CourseTitle = c.Title
	}
	// A generated password only exists in the call that created the account.
	// Any later send points the buyer at a password reset instead.
	if id.Credentials == nil && id.MustResetPassword {
		note.ResetRequired = true
		s.logger.Warn("temporary password unavailable, buyer must reset", "purchase_id", p.ID, "account_id", id.AccountID)
	}
	s.notifier.NotifyConfirmed(ctx, note)
}

// announce pushes a purchase's final status to checkout pages subscribed to
// its billing id or external id.
func (s *Service) announce(p *model.Purchase) {
	if s.broadcaster == nil {
		return
	}
	msg := websocket.StatusMessage(p)
	if msg.BillingID != "" {
		s.broadcaster.Broadcast(msg.BillingID, msg)
	}
	s.broadcaster.Broadcast(p.ExternalID, msg)
}

// cancel marks a pending purchase cancelled and announces it. It reports
// whether this call made the change.
func (s *Service) cancel(ctx context.Context, identifier string, kind model.IdentifierKind, source string) (bool, error) {
	ok, err := s.purchases.MarkCancelledIfPending(ctx, identifier, kind)
	if err != nil || !ok {
		return false, err
	}
	p, err := s.purchases.Get(ctx, identifier, kind)
	if err != nil {
		return true, err
	}
	if p != nil {
		s.logger.Info("purchase cancelled by gateway", "purchase_id", p.ID, "external_id", p.ExternalID, "source", source)
		s.announce(p)
	}
	return true, nil
}

// CheckStatus answers a client poll for a billing id. The local store is
// consulted first; only purchases still pending are checked with the
// gateway, and a gateway answer of paid goes through ConfirmPayment. Gateway
// failures degrade to the last known local status.
func (s *Service) CheckStatus(ctx context.Context, billingID string) (Status, error) {
	p, err := s.purchases.GetByBillingID(ctx, billingID)
	if err != nil {
		return StatusUnknown, err
	}
	if p != nil && p.Status != model.PurchaseStatusPending {
		return Status(p.Status), nil
	}

	st, err := s.gatewayStatus(ctx, billingID)
	if err != nil {
		s.logger.Warn("gateway status check failed", "billing_id", billingID, "error", err)
		return StatusPending, nil
	}
	if p == nil {
		return st, nil
	}
	return s.apply(ctx, p, st, metrics.SourcePoll)
}

func (s *Service) gatewayStatus(ctx context.Context, billingID string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	raw, err := s.gateway.CheckStatus(ctx, billingID)
	if err != nil {
		s.metrics.GatewayError("check_status")
		return StatusUnknown, err
	}
	return NormalizeGatewayStatus(raw), nil
}

// apply moves a pending purchase according to a gateway status and returns
// the purchase's resulting status.
func (s *Service) apply(ctx context.Context, p *model.Purchase, st Status, source string) (Status, error) {
	switch st {
	case StatusPaid:
		_, err := s.ConfirmPayment(ctx, p.ExternalID, model.ByExternalID, source)
		if errors.Is(err, store.ErrNotPending) {
			return StatusCancelled, nil
		}
		if err != nil {
			return StatusPending, err
		}
		return StatusPaid, nil

	case StatusCancelled:
		cancelled, err := s.cancel(ctx, p.ExternalID, model.ByExternalID, source)
		if cancelled {
			return StatusCancelled, nil
		}
		if err != nil {
			return StatusPending, err
		}
		cur, err := s.purchases.GetByID(ctx, p.ID)
		if err != nil || cur == nil {
			return StatusPending, err
		}
		return Status(cur.Status), nil
	}
	return StatusPending, nil
}

// HandleWebhook applies a parsed gateway webhook. The event name decides the
// status when it is recognized, otherwise the payload's status field does.
// Lookups go by billing id first and fall back to the external id, which
// covers a billing id replaced by a newer session.
func (s *Service) HandleWebhook(ctx context.Context, ev *abacatepay.WebhookEvent) error {
	st := NormalizeGatewayStatus(ev.Event)
	if st == StatusUnknown {
		st = NormalizeGatewayStatus(ev.Status)
	}

	switch st {
	case StatusPaid:
		if ev.BillingID != "" {
			_, err := s.ConfirmPayment(ctx, ev.BillingID, model.ByBillingID, metrics.SourceWebhook)
			if !errors.Is(err, store.ErrNotFound) || ev.ExternalID == "" {
				return err
			}
		}
		_, err := s.ConfirmPayment(ctx, ev.ExternalID, model.ByExternalID, metrics.SourceWebhook)
		return err

	case StatusCancelled:
		if ev.BillingID != "" {
			ok, err := s.cancel(ctx, ev.BillingID, model.ByBillingID, metrics.SourceWebhook)
			if err != nil || ok || ev.ExternalID == "" {
				return err
			}
		}
		if ev.ExternalID != "" {
			_, err := s.cancel(ctx, ev.ExternalID, model.ByExternalID, metrics.SourceWebhook)
			return err
		}
		return nil
	}

	s.logger.Debug("ignoring webhook", "event", ev.Event, "status", ev.Status, "billing_id", ev.BillingID)
	return nil
}
