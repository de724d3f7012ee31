package clients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 0=closed, 1=half-open, 2=open
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "copilot",
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "circuit_breaker_state_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordCircuitBreakerState updates the state gauge for one breaker.
func RecordCircuitBreakerState(name string, state CircuitBreakerState) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTransition records a state transition and the new state.
func RecordCircuitBreakerTransition(name string, from, to CircuitBreakerState) {
	circuitBreakerStateTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	RecordCircuitBreakerState(name, to)
}

// CircuitBreakerMetricsCallback adapts the metric recorders to the
// CircuitBreakerConfig.OnStateChange shape.
func CircuitBreakerMetricsCallback(name string) func(string, CircuitBreakerState, CircuitBreakerState) {
	return func(_ string, from, to CircuitBreakerState) {
		RecordCircuitBreakerTransition(name, from, to)
	}
}
