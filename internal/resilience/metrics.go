package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors, labelled by guarded target. In this API the only
// target is the voucher validation service.
var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Breaker state per guarded dependency: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transition_total",
			Help: "Breaker state transitions by from/to state.",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_open_total",
			Help: "Times the breaker tripped open, i.e. voucher validation was cut off.",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
