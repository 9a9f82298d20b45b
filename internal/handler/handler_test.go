package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/coursepay/internal/abacatepay"
	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/model"
	"github.com/dukerupert/coursepay/internal/payment"
	"github.com/dukerupert/coursepay/internal/store"
)

const testWebhookSecret = "whsec_test"

type fakeGateway struct {
	mu       sync.Mutex
	next     int
	statuses map[string]string
}

func (g *fakeGateway) CreatePixQRCode(ctx context.Context, req abacatepay.PixQRCodeRequest) (*abacatepay.PixQRCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := fmt.Sprintf("pix_char_%d", g.next)
	g.statuses[id] = "PENDING"
	return &abacatepay.PixQRCode{ID: id, Amount: req.Amount, Status: "PENDING", BRCode: "0002" + id, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (g *fakeGateway) CreateBilling(ctx context.Context, req abacatepay.BillingRequest) (*abacatepay.Billing, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := fmt.Sprintf("bill_%d", g.next)
	g.statuses[id] = "PENDING"
	return &abacatepay.Billing{ID: id, URL: "https://pay.test/" + id, Status: "PENDING"}, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, billingID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.statuses[billingID]
	if !ok {
		return "", &abacatepay.APIError{StatusCode: 404}
	}
	return st, nil
}

func (g *fakeGateway) set(id, status string) {
	g.mu.Lock()
	g.statuses[id] = status
	g.mu.Unlock()
}

type testEnv struct {
	mux       *http.ServeMux
	gateway   *fakeGateway
	svc       *payment.Service
	purchases *store.PurchaseStore
	courses   *store.CourseStore
	course    *model.Course
	logs      *bytes.Buffer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	purchases := store.NewPurchaseStore(db)
	courses := store.NewCourseStore(db)
	enrollments := store.NewEnrollmentStore(db)
	accounts := store.NewAccountStore(db)
	gateway := &fakeGateway{statuses: make(map[string]string)}

	course, err := courses.Create(context.Background(), "Go para Iniciantes", "", decimal.RequireFromString("197.00"), true)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	m := metrics.New()
	resolver := payment.NewResolver(accounts, purchases, logger)
	notifier := payment.NewNotifier(nil, nil, "55", m, logger)
	svc := payment.NewService(purchases, courses, enrollments, resolver, notifier, gateway, m, logger)

	purchaseH := NewPurchaseHandler(svc, purchases, logger)
	paymentH := NewPaymentHandler(svc, logger)
	webhookH := NewWebhookHandler(svc, abacatepay.NewClient(abacatepay.Config{WebhookSecret: testWebhookSecret}), logger)
	courseH := NewCourseHandler(courses, enrollments, logger)
	accountH := NewAccountHandler(accounts, enrollments, purchases, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/purchases", purchaseH.Create)
	mux.HandleFunc("GET /api/purchases/{externalId}", purchaseH.Get)
	mux.HandleFunc("POST /api/purchases/{externalId}/session", purchaseH.OpenSession)
	mux.HandleFunc("GET /api/payments/{billingId}/status", paymentH.Status)
	mux.HandleFunc("POST /api/admin/purchases/{externalId}/confirm", paymentH.Confirm)
	mux.HandleFunc("POST /webhooks/abacatepay", webhookH.HandleAbacatePay)
	mux.HandleFunc("GET /api/courses", courseH.List)
	mux.HandleFunc("GET /api/courses/{id}", courseH.Get)
	mux.HandleFunc("POST /api/admin/courses", courseH.Create)
	mux.HandleFunc("GET /api/admin/courses/{id}", courseH.AdminGet)
	mux.HandleFunc("GET /api/admin/purchases/{externalId}", purchaseH.AdminGet)
	mux.HandleFunc("GET /api/admin/accounts/{id}", accountH.Get)
	mux.HandleFunc("GET /api/admin/accounts/{id}/purchases", accountH.Purchases)

	return &testEnv{mux: mux, gateway: gateway, svc: svc, purchases: purchases, courses: courses, course: course, logs: logs}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) purchaseBody(externalID, method string) string {
	b, _ := json.Marshal(map[string]any{
		"course_id":      e.course.ID,
		"amount":         "197.00",
		"payment_method": method,
		"external_id":    externalID,
		"buyer": map[string]string{
			"name":   "Ana Souza",
			"email":  "ana@example.com",
			"phone":  "(11) 98765-4321",
			"tax_id": "123.456.789-01",
		},
	})
	return string(b)
}

func (e *testEnv) createWithSession(t *testing.T, externalID string) string {
	t.Helper()
	if rec := e.do(t, "POST", "/api/purchases", e.purchaseBody(externalID, "pix")); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	rec := e.do(t, "POST", "/api/purchases/"+externalID+"/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d, body %s", rec.Code, rec.Body)
	}
	var sess payment.Session
	decode(t, rec, &sess)
	return sess.BillingID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]apiError
	decode(t, rec, &body)
	return body["error"].Type
}

func (e *testEnv) status(t *testing.T, externalID string) model.PurchaseStatus {
	t.Helper()
	p, err := e.purchases.GetByExternalID(context.Background(), externalID)
	if err != nil || p == nil {
		t.Fatalf("get purchase %s: %v", externalID, err)
	}
	return p.Status
}
