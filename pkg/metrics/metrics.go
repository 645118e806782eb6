package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Callbacks          *prometheus.CounterVec
	OrderTransitions   *prometheus.CounterVec
	ManualReviews      *prometheus.CounterVec
	SweeperActions     *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	CompensationErrors *prometheus.CounterVec
}

// New registers the service collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillmart",
			Name:      "payment_callbacks_total",
			Help:      "Gateway notifications by method and outcome.",
		}, []string{"method", "outcome"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillmart",
			Name:      "order_transitions_total",
			Help:      "Committed order state transitions.",
		}, []string{"from", "to"}),
		ManualReviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillmart",
			Name:      "orders_manual_review_total",
			Help:      "Orders flagged for manual review by reason.",
		}, []string{"reason"}),
		SweeperActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillmart",
			Name:      "sweeper_actions_total",
			Help:      "Reconciliation actions taken by the sweeper.",
		}, []string{"action"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skillmart",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one sweeper pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		CompensationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillmart",
			Name:      "compensation_failures_total",
			Help:      "Compensation actions that returned an error.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.Callbacks, m.OrderTransitions, m.ManualReviews, m.SweeperActions, m.SweepDuration, m.CompensationErrors)
	return m
}

// NewNop returns collectors registered nowhere, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
