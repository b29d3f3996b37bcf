package guard

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcomes as recorded in lockout_decisions_total.
const (
	OutcomeAllowed         = "allowed"
	OutcomeLimited         = "limited"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeFailOpen        = "fail_open"
)

// Metrics counts guard decisions and store failures. A nil *Metrics records nothing.
type Metrics struct {
	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockout_decisions_total",
			Help: "Guard decisions by policy and outcome.",
		}, []string{"policy", "outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockout_store_errors_total",
			Help: "Attempt store failures by policy and operation.",
		}, []string{"policy", "operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.storeErrors)
	}
	return m
}

func (m *Metrics) decision(policy, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(policy, outcome).Inc()
}

func (m *Metrics) storeError(policy, operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(policy, operation).Inc()
}
