package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Confirmation sources.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceManual  = "manual"
	SourceSweep   = "sweep"
)

// Confirmation outcomes.
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeAlreadyPaid = "already_paid"
	OutcomeNotPending  = "not_pending"
	OutcomeNotFound    = "not_found"
	OutcomeError       = "error"
)

// Metrics holds the payment workflow counters.
type Metrics struct {
	registry      *prometheus.Registry
	confirmations *prometheus.CounterVec
	notifications *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	fulfillErrors prometheus.Counter
	sweepRuns     prometheus.Counter
	sweepErrors   *prometheus.CounterVec
	purchases     *prometheus.CounterVec
}

// New registers the counters on a fresh registry, which Handler serves.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_confirmations_total",
			Help: "Payment confirmation attempts by entry point and outcome.",
		}, []string{"source", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_notifications_total",
			Help: "Buyer notifications by channel and result.",
		}, []string{"channel", "result"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_gateway_errors_total",
			Help: "Failed AbacatePay calls by operation.",
		}, []string{"operation"}),
		fulfillErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursepay_fulfillment_errors_total",
			Help: "Paid purchases whose account or enrollment step failed.",
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursepay_sweep_runs_total",
			Help: "Reconciliation sweeps executed.",
		}),
		sweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_sweep_errors_total",
			Help: "Per-purchase reconciliation errors by phase.",
		}, []string{"phase"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_purchases_created_total",
			Help: "Purchases created by payment method.",
		}, []string{"method"}),
	}
	reg.MustRegister(
		m.confirmations,
		m.notifications,
		m.gatewayErrors,
		m.fulfillErrors,
		m.sweepRuns,
		m.sweepErrors,
		m.purchases,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Confirmation(source, outcome string) {
	m.confirmations.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Notification(channel string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) GatewayError(operation string) {
	m.gatewayErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) FulfillmentError() {
	m.fulfillErrors.Inc()
}

func (m *Metrics) SweepRun() {
	m.sweepRuns.Inc()
}

func (m *Metrics) SweepError(phase string) {
	m.sweepErrors.WithLabelValues(phase).Inc()
}

func (m *Metrics) PurchaseCreated(method string) {
	m.purchases.WithLabelValues(method).Inc()
}
