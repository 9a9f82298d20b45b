package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/coursepay/internal/abacatepay"
	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/email"
	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/store"
	"github.com/dukerupert/coursepay/internal/websocket"
)

type fakeGateway struct {
	mu        sync.Mutex
	next      int
	statuses  map[string]string
	checkErr  error
	createErr error
	checks    int
	pixReqs   []abacatepay.PixQRCodeRequest
	billReqs  []abacatepay.BillingRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (g *fakeGateway) CreatePixQRCode(ctx context.Context, req abacatepay.PixQRCodeRequest) (*abacatepay.PixQRCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	g.pixReqs = append(g.pixReqs, req)
	id := fmt.Sprintf("pix_char_%d", g.next)
	g.statuses[id] = "PENDING"
	return &abacatepay.PixQRCode{
		ID:        id,
		Amount:    req.Amount,
		Status:    "PENDING",
		BRCode:    "00020101" + id,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (g *fakeGateway) CreateBilling(ctx context.Context, req abacatepay.BillingRequest) (*abacatepay.Billing, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	g.billReqs = append(g.billReqs, req)
	id := fmt.Sprintf("bill_%d", g.next)
	g.statuses[id] = "PENDING"
	return &abacatepay.Billing{ID: id, URL: "https://pay.test/" + id, Status: "PENDING"}, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, billingID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.checkErr != nil {
		return "", g.checkErr
	}
	status, ok := g.statuses[billingID]
	if !ok {
		return "", &abacatepay.APIError{StatusCode: 404, Message: "not found"}
	}
	return status, nil
}

func (g *fakeGateway) set(billingID, status string) {
	g.mu.Lock()
	g.statuses[billingID] = status
	g.mu.Unlock()
}

func (g *fakeGateway) checkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checks
}

type sentText struct {
	number string
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (m *fakeMessenger) SendText(ctx context.Context, number, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentText{number: number, text: text})
	return nil
}

func (m *fakeMessenger) messages() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.sent...)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.PurchaseConfirmation
}

func (m *fakeMailer) SendPurchaseConfirmation(ctx context.Context, pc email.PurchaseConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, pc)
	return nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (b *fakeBroadcaster) Broadcast(topic string, msg websocket.Message) {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
}

type testEnv struct {
	db          *database.DB
	svc         *Service
	purchases   *store.PurchaseStore
	accounts    *store.AccountStore
	enrollments *store.EnrollmentStore
	courses     *store.CourseStore
	gateway     *fakeGateway
	messenger   *fakeMessenger
	mailer      *fakeMailer
	broadcaster *fakeBroadcaster
	course      *model.Course
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	env := &testEnv{
		db:          db,
		purchases:   store.NewPurchaseStore(db),
		accounts:    store.NewAccountStore(db),
		enrollments: store.NewEnrollmentStore(db),
		courses:     store.NewCourseStore(db),
		gateway:     newFakeGateway(),
		messenger:   &fakeMessenger{},
		mailer:      &fakeMailer{},
		broadcaster: &fakeBroadcaster{},
	}

	env.course, err = env.courses.Create(context.Background(), "Go para Iniciantes", "", decimal.RequireFromString("197.00"), true)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	m := metrics.New()
	resolver := NewResolver(env.accounts, env.purchases, logger)
	resolver.bcryptCost = bcrypt.MinCost
	notifier := NewNotifier(env.messenger, env.mailer, "55", m, logger)
	env.svc = NewService(env.purchases, env.courses, env.enrollments, resolver, notifier, env.gateway, m, logger,
		WithBroadcaster(env.broadcaster),
		WithGatewayTimeout(time.Second),
	)
	return env
}

func (e *testEnv) purchaseRequest(externalID string) PurchaseRequest {
	return PurchaseRequest{
		CourseID:      e.course.ID,
		Amount:        decimal.RequireFromString("197.00"),
		PaymentMethod: model.PaymentMethodPix,
		ExternalID:    externalID,
		Buyer: model.BuyerContact{
			Name:  "Ana Souza",
			Email: "Ana@Example.com",
			Phone: "(11) 98765-4321",
			TaxID: "123.456.789-01",
		},
	}
}

// createWithSession creates a pending purchase and opens a gateway session.
func (e *testEnv) createWithSession(t *testing.T, req PurchaseRequest) (*model.Purchase, string) {
	t.Helper()
	ctx := context.Background()
	p, _, err := e.svc.CreatePurchase(ctx, req)
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	sess, err := e.svc.OpenSession(ctx, p.ExternalID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return p, sess.BillingID
}

// rows counts the rows of a table.
func (e *testEnv) rows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := e.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
