package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  *prometheus.GaugeVec
	Events          *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	Provisions      *prometheus.CounterVec
	Deposits        *prometheus.CounterVec
	RemoteLatency   *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open conversation sessions by workflow.",
		}, []string{"workflow"}),
		Events: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_events_total",
			Help:      "Inbound chat events by kind.",
		}, []string{"kind"}),
		HandlerFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Event handler failures by reason.",
		}, []string{"reason"}),
		Provisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisions_total",
			Help:      "Provisioning attempts by flow and outcome.",
		}, []string{"flow", "outcome"}),
		Deposits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Deposit transitions by outcome.",
		}, []string{"outcome"}),
		RemoteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_command_seconds",
			Help:      "Remote command duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) SessionOpened(workflow string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(workflow).Inc()
}

func (m *Metrics) SessionClosed(workflow string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(workflow).Dec()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandlerFailed(reason string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Provisioned(flow, outcome string) {
	if m == nil {
		return
	}
	m.Provisions.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) Deposit(outcome string) {
	if m == nil {
		return
	}
	m.Deposits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRemote(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
