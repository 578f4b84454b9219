// metrics.go - Prometheus instrumentation for the HTTP surface.
//
// Three signals: how often each operation runs and with what outcome,
// how long it takes, and how often reconciliation actually had to
// repair something (drift is the health indicator of the books).
package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	repairs    prometheus.Counter
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "debt_engine_operations_total",
			Help: "Engine operations by name and outcome.",
		}, []string{"op", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "debt_engine_operation_duration_seconds",
			Help:    "Engine operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		repairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "debt_engine_reconciliation_repairs_total",
			Help: "Transactions rewritten by reconciliation after drift.",
		}),
	}
}

// observe records one operation outcome.
func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// repaired counts reconciliation rewrites.
func (m *Metrics) repaired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repairs.Add(float64(n))
}
