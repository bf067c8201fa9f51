// Package metrics holds the Prometheus collectors exported by the load
// balancer. Registration happens once, in New; every other package takes a
// *Metrics and updates its collector fields rather than touching the
// prometheus registry directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "loadbalancer"

// Metrics bundles every collector the dispatch-and-health subsystem reports
// against. It is safe for concurrent use, since every prometheus collector
// already is.
type Metrics struct {
	Selections        *prometheus.CounterVec
	SelectionFailures prometheus.Counter
	PolicyTransitions *prometheus.CounterVec
	ActivePolicy      *prometheus.GaugeVec
	BackendLoad       *prometheus.GaugeVec
	BackendHealthy    *prometheus.GaugeVec
	ProbeResults      *prometheus.CounterVec
	DispatchOutcomes  *prometheus.CounterVec
}

// New constructs and registers every collector against the default
// registry. Calling New twice in the same process will panic (duplicate
// registration), which is intentional: there is exactly one Metrics per
// running load balancer.
func New() *Metrics {
	return &Metrics{
		Selections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Number of successful registry selections, labeled by chosen backend.",
		}, []string{"backend"}),
		SelectionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_failures_total",
			Help:      "Number of Select calls that found no healthy backend.",
		}),
		PolicyTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_transitions_total",
			Help:      "Number of times the adaptive chooser switched the active policy.",
		}, []string{"policy"}),
		ActivePolicy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_policy",
			Help:      "1 for the currently active selection policy, 0 for the others.",
		}, []string{"policy"}),
		BackendLoad: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_load",
			Help:      "Current number of in-flight relay tasks per backend.",
		}, []string{"backend"}),
		BackendHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "1 if the backend was healthy as of the last probe, 0 otherwise.",
		}, []string{"backend"}),
		ProbeResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_results_total",
			Help:      "Health probe outcomes, labeled by backend and outcome (healthy|unhealthy).",
		}, []string{"backend", "outcome"}),
		DispatchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Accept-loop outcomes, labeled by outcome (relayed|dropped_no_healthy|dropped_connect_failed).",
		}, []string{"outcome"}),
	}
}
