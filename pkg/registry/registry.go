// Package registry implements the worker registry: the single piece of
// mutable shared state in the load balancer, combining the fixed backend
// list, per-backend health and load, the round-robin cursor, and the
// currently active selection policy behind one writer lock.
package registry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zainen/load-balancer/pkg/endpoint"
	"github.com/zainen/load-balancer/pkg/logging"
	"github.com/zainen/load-balancer/pkg/metrics"
)

// Registry holds the fixed backend list plus the mutable health/load/cursor
// state the dispatcher and health prober read and update. The zero value is
// not usable; construct with New.
//
// A single sync.RWMutex guards every field below. The LeastConnections
// policy and the adaptive chooser both need a consistent view across
// health, loads and addresses at once, so this is intentionally one coarse
// lock rather than one per field.
type Registry struct {
	mu sync.RWMutex

	addresses []endpoint.Endpoint
	health    map[endpoint.Endpoint]bool
	loads     map[endpoint.Endpoint]int
	cursor    int
	policy    Policy

	thresholds   Thresholds
	forcedPolicy bool
	rng          *rand.Rand
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// Option configures optional Registry behavior at construction time.
type Option func(*Registry)

// WithThresholds overrides the adaptive policy thresholds (default
// registry.DefaultThresholds).
func WithThresholds(t Thresholds) Option {
	return func(r *Registry) { r.thresholds = t }
}

// WithMetrics attaches a *metrics.Metrics to report against. Without this
// option the registry simply does not export metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithRand overrides the source of randomness used by the Random policy;
// intended for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) { r.rng = rng }
}

// New constructs a Registry over addresses, which must be non-empty. Every
// endpoint starts optimistically healthy with zero load, so traffic can
// flow before the first probe completes. The initial policy is Random,
// since with uniform loads any policy is an acceptable seed.
func New(addresses []endpoint.Endpoint, opts ...Option) (*Registry, error) {
	if len(addresses) == 0 {
		return nil, errEmptyAddresses
	}

	r := &Registry{
		addresses:  append([]endpoint.Endpoint(nil), addresses...),
		health:     make(map[endpoint.Endpoint]bool, len(addresses)),
		loads:      make(map[endpoint.Endpoint]int, len(addresses)),
		cursor:     0,
		policy:     Random,
		thresholds: DefaultThresholds,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        logging.Component("registry"),
	}
	for _, e := range r.addresses {
		r.health[e] = true
		r.loads[e] = 0
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

var errEmptyAddresses = registryError("registry: addresses must be non-empty")

type registryError string

func (e registryError) Error() string { return string(e) }

// Select is the central operation: it runs the adaptive chooser, computes
// the healthy subset, and, if that subset is non-empty, picks one endpoint
// per the now-active policy, increments its load, and returns it. An
// ok=false result means no healthy backend was available, which is an
// expected, non-error outcome the dispatcher must handle distinctly from a
// Go error.
func (r *Registry) Select() (endpoint.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updatePolicyLocked()

	healthy := r.healthySubsetLocked()
	if len(healthy) == 0 {
		if r.metrics != nil {
			r.metrics.SelectionFailures.Inc()
		}
		return endpoint.Endpoint{}, false
	}

	var picked endpoint.Endpoint
	switch r.policy {
	case RoundRobin:
		picked, r.cursor = selectRoundRobin(healthy, r.cursor)
	case Random:
		picked = selectRandom(healthy, r.rng)
	case LeastConnections:
		picked = selectLeastConnections(healthy, r.loads)
	default:
		picked, r.cursor = selectRoundRobin(healthy, r.cursor)
	}

	r.loads[picked]++
	r.reportLoadLocked(picked)
	if r.metrics != nil {
		r.metrics.Selections.WithLabelValues(picked.String()).Inc()
	}
	return picked, true
}

// Release decrements loads[e] if positive. A decrement on an endpoint
// missing from the load map logs an error (it signals a bug elsewhere)
// rather than crashing; a decrement on an already-zero counter is a silent
// no-op.
func (r *Registry) Release(e endpoint.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.loads[e]
	if !ok {
		r.log.Error().Str("endpoint", e.String()).Msg("release of unknown endpoint, registry invariant violated")
		return
	}
	if current > 0 {
		r.loads[e] = current - 1
	}
	r.reportLoadLocked(e)
}

// SetHealth atomically replaces the entire health map with result, so a
// concurrent Select either sees the pre-sweep or the post-sweep health, never
// a partial mix. Endpoints not present in result are treated as unhealthy;
// endpoints in result but not in addresses are ignored.
func (r *Registry) SetHealth(result map[endpoint.Endpoint]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[endpoint.Endpoint]bool, len(r.addresses))
	for _, e := range r.addresses {
		next[e] = result[e]
	}
	r.health = next

	if r.metrics != nil {
		for _, e := range r.addresses {
			v := 0.0
			if r.health[e] {
				v = 1.0
			}
			r.metrics.BackendHealthy.WithLabelValues(e.String()).Set(v)
		}
	}
}

// Addresses returns a copy of the configured backend list, in configured
// order.
func (r *Registry) Addresses() []endpoint.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]endpoint.Endpoint(nil), r.addresses...)
}

// Snapshot returns a read-only, internally consistent view of health and
// load for diagnostics and tests. It does not expose the live maps.
type Snapshot struct {
	Health map[endpoint.Endpoint]bool
	Loads  map[endpoint.Endpoint]int
	Policy Policy
	Cursor int
}

// Inspect returns a Snapshot of the current registry state.
func (r *Registry) Inspect() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Health: make(map[endpoint.Endpoint]bool, len(r.health)),
		Loads:  make(map[endpoint.Endpoint]int, len(r.loads)),
		Policy: r.policy,
		Cursor: r.cursor,
	}
	for k, v := range r.health {
		s.Health[k] = v
	}
	for k, v := range r.loads {
		s.Loads[k] = v
	}
	return s
}

// ForcePolicy pins the active policy and disables the adaptive chooser
// until ClearForcedPolicy is called. Exists for tests that need to exercise
// a specific policy deterministically; production code never calls it.
func (r *Registry) ForcePolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
	r.forcedPolicy = true
}

// ClearForcedPolicy re-enables the adaptive chooser after a prior
// ForcePolicy call.
func (r *Registry) ClearForcedPolicy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forcedPolicy = false
}

func (r *Registry) updatePolicyLocked() {
	if r.forcedPolicy {
		return
	}
	next := chooseAdaptivePolicy(r.loads, r.thresholds)
	if next != r.policy {
		r.log.Warn().Stringer("from", r.policy).Stringer("to", next).Msg("adaptive policy transition")
		if r.metrics != nil {
			r.metrics.PolicyTransitions.WithLabelValues(next.String()).Inc()
			r.metrics.ActivePolicy.WithLabelValues(r.policy.String()).Set(0)
			r.metrics.ActivePolicy.WithLabelValues(next.String()).Set(1)
		}
		r.policy = next
	}
}

func (r *Registry) healthySubsetLocked() []endpoint.Endpoint {
	healthy := make([]endpoint.Endpoint, 0, len(r.addresses))
	for _, e := range r.addresses {
		if r.health[e] {
			healthy = append(healthy, e)
		}
	}
	return healthy
}

func (r *Registry) reportLoadLocked(e endpoint.Endpoint) {
	if r.metrics == nil {
		return
	}
	r.metrics.BackendLoad.WithLabelValues(e.String()).Set(float64(r.loads[e]))
}
