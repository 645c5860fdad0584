package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for backend requests and session activity.
type Metrics struct {
	Requests           *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ForcedSignOuts     prometheus.Counter
	SessionTransitions *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgctl_requests_total",
				Help: "Backend requests issued by the dispatcher",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgctl_request_duration_seconds",
				Help:    "Backend request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ForcedSignOuts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orgctl_forced_signouts_total",
				Help: "Sign-outs triggered by a 401 from the backend",
			},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgctl_session_transitions_total",
				Help: "Session state transitions by resulting phase",
			},
			[]string{"phase"},
		),
	}
}

// NewRegistry creates a dedicated registry with the metrics registered.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// ObserveRequest records one backend call. status 0 means the request never
// got a response.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(method, label).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) ForcedSignOut() {
	m.ForcedSignOuts.Inc()
}

func (m *Metrics) SessionTransition(phase string) {
	m.SessionTransitions.WithLabelValues(phase).Inc()
}

// HandlerFor returns an HTTP handler exposing reg.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
