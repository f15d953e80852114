package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bodega client
type Metrics struct {
	// Request client metrics
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthRejections  prometheus.Counter
	NetworkErrors   prometheus.Counter

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionEnded       *prometheus.CounterVec

	// Metrics poller
	PollFetches *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodega_requests_total",
				Help: "Total number of backend requests by method and status class",
			},
			[]string{"method", "status_class"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bodega_request_duration_seconds",
				Help:    "Backend request latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		AuthRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bodega_auth_rejections_total",
				Help: "Total number of 401 responses to authorized requests",
			},
		),
		NetworkErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bodega_network_errors_total",
				Help: "Total number of requests that failed before a response arrived",
			},
		),

		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodega_session_transitions_total",
				Help: "Total number of session state transitions",
			},
			[]string{"from", "to"},
		),
		SessionEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodega_session_ended_total",
				Help: "Total number of sessions ended, by reason",
			},
			[]string{"reason"},
		),

		PollFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodega_metrics_poll_fetches_total",
				Help: "Total number of admin metrics fetches by outcome",
			},
			[]string{"outcome"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodega_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}
}

// StatusClass buckets an HTTP status into "2xx", "4xx" and so on
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ObserveRequest records one completed backend request. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, StatusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if status == 401 {
		m.AuthRejections.Inc()
	}
}

// ObserveNetworkError records a transport failure. Safe on a nil receiver.
func (m *Metrics) ObserveNetworkError() {
	if m == nil {
		return
	}
	m.NetworkErrors.Inc()
}

// ObserveTransition records a session state change. Safe on a nil receiver.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// ObserveSessionEnded records why a session ended. Safe on a nil receiver.
func (m *Metrics) ObserveSessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionEnded.WithLabelValues(reason).Inc()
}

// ObservePoll records one poller fetch outcome ("settled", "pending",
// "error"). Safe on a nil receiver.
func (m *Metrics) ObservePoll(outcome string) {
	if m == nil {
		return
	}
	m.PollFetches.WithLabelValues(outcome).Inc()
}

// ObserveError counts an error by its structured code. Safe on a nil receiver.
func (m *Metrics) ObserveError(code string) {
	if m == nil || code == "" {
		return
	}
	m.Errors.WithLabelValues(code).Inc()
}
