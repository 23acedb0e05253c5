package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rty23111-ctrl/agent-identity/internal/worker"
)

const namespace = "agent_identity"

// Metrics holds the Prometheus collectors for the service. Each instance
// owns its registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	TokensIssuedTotal     *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec
	RateLimitedTotal      *prometheus.CounterVec
	WebhookEventsTotal    *prometheus.CounterVec
	ProvisioningTotal     *prometheus.CounterVec
	AuditDeliveriesTotal  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		TokensIssuedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by key source",
		}, []string{"key_source"}),
		TokenValidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Token validations by result",
		}, []string{"result"}),
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"bucket"}),
		WebhookEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_webhook_events_total",
			Help:      "Payment webhook events by type and outcome",
		}, []string{"type", "outcome"}),
		ProvisioningTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_provisioning_attempts_total",
			Help:      "Provisioning attempts by resulting status",
		}, []string{"status"}),
		AuditDeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_deliveries_total",
			Help:      "Audit webhook deliveries by outcome",
		}, []string{"outcome"}),
	}
}

// RegisterDispatcher exposes the dispatcher counters.
func (m *Metrics) RegisterDispatcher(d *worker.Dispatcher) {
	f := promauto.With(m.registry)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_tasks_submitted_total",
		Help:      "Background tasks submitted",
	}, func() float64 { return float64(d.Stats().Submitted) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_tasks_failed_total",
		Help:      "Background tasks that failed or timed out",
	}, func() float64 { return float64(d.Stats().Failed) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "background_tasks_in_flight",
		Help:      "Background tasks currently running",
	}, func() float64 { return float64(d.Stats().InFlight) })
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
