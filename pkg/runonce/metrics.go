package runonce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coordinator's Prometheus instruments. All recording
// helpers are nil-safe so a coordinator without metrics costs nothing.
type Metrics struct {
	// Executions counts handler entries by mode ("fresh" or "retry").
	Executions *prometheus.CounterVec

	// Replays counts invocations satisfied from a stored response.
	Replays prometheus.Counter

	// Collisions counts invocations rejected because another holder had a
	// valid lease.
	Collisions prometheus.Counter

	// Timeouts counts automatic handler deadline breaches.
	Timeouts prometheus.Counter

	// Failures counts recorded failures by kind ("retryable" or
	// "non_retryable").
	Failures *prometheus.CounterVec

	// StorageErrors counts fatal errors: failed store operations, plus any
	// arbitration error other than a lease collision or a latched failure
	// (preprocess and codec failures included).
	StorageErrors prometheus.Counter

	// HandlerDuration observes wall time spent inside the user handler.
	HandlerDuration prometheus.Histogram
}

// NewMetrics registers and returns the coordinator metrics. A nil registry
// falls back to prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runonce_executions_total",
				Help: "Total handler executions by mode (fresh or retry)",
			},
			[]string{"mode"},
		),
		Replays: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "runonce_replays_total",
				Help: "Total invocations answered from a stored response",
			},
		),
		Collisions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "runonce_collisions_total",
				Help: "Total invocations rejected while another holder had the lease",
			},
		),
		Timeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "runonce_timeouts_total",
				Help: "Total automatic handler deadline breaches",
			},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runonce_failures_total",
				Help: "Total recorded failures by kind (retryable or non_retryable)",
			},
			[]string{"kind"},
		),
		StorageErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "runonce_storage_errors_total",
				Help: "Total fatal record store errors",
			},
		),
		HandlerDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "runonce_handler_duration_seconds",
				Help:    "Wall time spent inside the user handler",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) recordExecution(mode string) {
	if m != nil && m.Executions != nil {
		m.Executions.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) recordReplay() {
	if m != nil && m.Replays != nil {
		m.Replays.Inc()
	}
}

func (m *Metrics) recordCollision() {
	if m != nil && m.Collisions != nil {
		m.Collisions.Inc()
	}
}

func (m *Metrics) recordTimeout() {
	if m != nil && m.Timeouts != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) recordFailure(kind string) {
	if m != nil && m.Failures != nil {
		m.Failures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordStorageError() {
	if m != nil && m.StorageErrors != nil {
		m.StorageErrors.Inc()
	}
}

func (m *Metrics) observeHandlerDuration(seconds float64) {
	if m != nil && m.HandlerDuration != nil {
		m.HandlerDuration.Observe(seconds)
	}
}
