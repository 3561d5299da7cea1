package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts store requests made by an engine. A nil *Metrics records
// nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	condFailures *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flywheel",
				Name:      "requests_total",
				Help:      "Store requests by operation, table and outcome",
			},
			[]string{"operation", "table", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flywheel",
				Name:      "request_duration_seconds",
				Help:      "Store request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		condFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flywheel",
				Name:      "conditional_check_failures_total",
				Help:      "Conditional writes rejected by the store",
			},
			[]string{"operation", "table"},
		),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.condFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

const (
	outcomeOK          = "ok"
	outcomeConditional = "conditional_failed"
	outcomeError       = "error"
)

func (m *Metrics) observe(op, table string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case err == nil:
	case isConditionalCheckFailed(err):
		outcome = outcomeConditional
		m.condFailures.WithLabelValues(op, table).Inc()
	default:
		outcome = outcomeError
	}
	m.requests.WithLabelValues(op, table, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
