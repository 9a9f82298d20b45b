package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/coursepay/internal/abacatepay"
	"github.com/dukerupert/coursepay/internal/config"
	"github.com/dukerupert/coursepay/internal/database"
	"github.com/dukerupert/coursepay/internal/email"
	"github.com/dukerupert/coursepay/internal/evolution"
	"github.com/dukerupert/coursepay/internal/handler"
	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/middleware"
	"github.com/dukerupert/coursepay/internal/payment"
	"github.com/dukerupert/coursepay/internal/store"
	ws "github.com/dukerupert/coursepay/internal/websocket"
)

type Server struct {
	db          *database.DB
	hub         *ws.Hub
	service     *payment.Service
	reconciler  *payment.Reconciler
	metrics     *metrics.Metrics
	purchaseH   *handler.PurchaseHandler
	paymentH    *handler.PaymentHandler
	webhookH    *handler.WebhookHandler
	courseH     *handler.CourseHandler
	accountH    *handler.AccountHandler
	purchases   *store.PurchaseStore
	rateLimiter *middleware.RateLimiter
	adminToken  string
	logger      *slog.Logger
}

func New(db *database.DB, cfg *config.Config, logger *slog.Logger) *Server {
	m := metrics.New()
	hub := ws.NewHub(logger.With("component", "websocket"))

	purchaseStore := store.NewPurchaseStore(db)
	accountStore := store.NewAccountStore(db)
	enrollmentStore := store.NewEnrollmentStore(db)
	courseStore := store.NewCourseStore(db)

	gateway := abacatepay.NewClient(abacatepay.Config{
		APIKey:        cfg.AbacatePay.APIKey,
		BaseURL:       cfg.AbacatePay.BaseURL,
		WebhookSecret: cfg.AbacatePay.WebhookSecret,
		ReturnURL:     cfg.AbacatePay.ReturnURL,
		CompletionURL: cfg.AbacatePay.CompletionURL,
		Timeout:       cfg.AbacatePay.Timeout,
	})
	if !gateway.Configured() {
		logger.Warn("ABACATEPAY_API_KEY not set, payment sessions and status checks will fail")
	}

	// Unconfigured channels stay nil so the notifier skips them.
	var messenger payment.Messenger
	evo := evolution.NewClient(evolution.Config{
		BaseURL:  cfg.Evolution.BaseURL,
		APIKey:   cfg.Evolution.APIKey,
		Instance: cfg.Evolution.Instance,
		Timeout:  cfg.Evolution.Timeout,
	})
	if evo.Configured() {
		messenger = evo
	} else {
		logger.Warn("Evolution API not configured, WhatsApp notifications disabled")
	}
	var mailer payment.Mailer
	if mail := email.NewClient(cfg.Postmark.Token, cfg.Postmark.From, cfg.BaseURL); mail.Configured() {
		mailer = mail
	}

	paymentLogger := logger.With("component", "payment")
	resolver := payment.NewResolver(accountStore, purchaseStore, paymentLogger)
	notifier := payment.NewNotifier(messenger, mailer, cfg.DefaultCountryCode, m, logger.With("component", "notifier"))
	svc := payment.NewService(purchaseStore, courseStore, enrollmentStore, resolver, notifier, gateway, m, paymentLogger,
		payment.WithBroadcaster(hub),
		payment.WithPixExpiresIn(cfg.PixExpiresIn),
	)
	reconciler := payment.NewReconciler(svc, purchaseStore,
		cfg.Reconcile.Interval, cfg.Reconcile.Grace, cfg.Reconcile.Batch,
		logger.With("component", "reconciler"),
	)

	return &Server{
		db:          db,
		hub:         hub,
		service:     svc,
		reconciler:  reconciler,
		metrics:     m,
		purchaseH:   handler.NewPurchaseHandler(svc, purchaseStore, logger.With("component", "purchase")),
		paymentH:    handler.NewPaymentHandler(svc, logger.With("component", "payment")),
		webhookH:    handler.NewWebhookHandler(svc, gateway, logger.With("component", "webhook")),
		courseH:     handler.NewCourseHandler(courseStore, enrollmentStore, logger.With("component", "course")),
		accountH:    handler.NewAccountHandler(accountStore, enrollmentStore, purchaseStore, logger.With("component", "account")),
		purchases:   purchaseStore,
		rateLimiter: middleware.NewRateLimiter(),
		adminToken:  cfg.AdminToken,
		logger:      logger,
	}
}

// Service returns the payment workflow for CLI commands.
func (s *Server) Service() *payment.Service {
	return s.service
}

// Reconciler returns the sweep loop, started by serve.
func (s *Server) Reconciler() *payment.Reconciler {
	return s.reconciler
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Checkout
	mux.HandleFunc("POST /api/purchases", s.rateLimitedHandler("purchase", s.purchaseH.Create, 20))
	mux.HandleFunc("GET /api/purchases/{externalId}", s.purchaseH.Get)
	mux.HandleFunc("POST /api/purchases/{externalId}/session", s.rateLimitedHandler("session", s.purchaseH.OpenSession, 10))
	mux.HandleFunc("GET /api/payments/{billingId}/status", s.rateLimitedHandler("status", s.paymentH.Status, 60))
	mux.HandleFunc("GET /ws/payments/{billingId}", s.rateLimitedHandler("ws",
		ws.HandlePaymentStatus(s.hub, s.purchases, s.logger.With("component", "websocket")), 30))

	// Catalog
	mux.HandleFunc("GET /api/courses", s.courseH.List)
	mux.HandleFunc("GET /api/courses/{id}", s.courseH.Get)

	// Gateway webhook (secret checked in handler)
	mux.HandleFunc("POST /webhooks/abacatepay", s.webhookH.HandleAbacatePay)

	// Admin
	admin := middleware.RequireAdmin(s.adminToken)
	mux.Handle("POST /api/admin/purchases/{externalId}/confirm", admin(http.HandlerFunc(s.paymentH.Confirm)))
	mux.Handle("GET /api/admin/purchases/{externalId}", admin(http.HandlerFunc(s.purchaseH.AdminGet)))
	mux.Handle("POST /api/admin/courses", admin(http.HandlerFunc(s.courseH.Create)))
	mux.Handle("GET /api/admin/courses/{id}", admin(http.HandlerFunc(s.courseH.AdminGet)))
	mux.Handle("GET /api/admin/accounts/{id}", admin(http.HandlerFunc(s.accountH.Get)))
	mux.Handle("GET /api/admin/accounts/{id}/purchases", admin(http.HandlerFunc(s.accountH.Purchases)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// rateLimitedHandler limits h per client IP, with a separate window per
// route name.
func (s *Server) rateLimitedHandler(name string, h http.HandlerFunc, perMinute int) http.HandlerFunc {
	key := func(r *http.Request) string {
		return name + ":" + middleware.ByIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, key, perMinute, time.Minute)
	return rl(h).ServeHTTP
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
