package registry

import (
	"math/rand"

	"github.com/zainen/load-balancer/pkg/endpoint"
)

// Policy identifies one of the three selection strategies a Registry can be
// operating under at any moment.
type Policy int

const (
	// RoundRobin advances a shared cursor through the healthy subset in
	// the original configured order.
	RoundRobin Policy = iota
	// Random draws a uniformly distributed index into the healthy subset.
	Random
	// LeastConnections picks the healthy endpoint with the smallest
	// current load, first-wins on ties.
	LeastConnections
)

// String renders the policy the way log lines and the active_policy metric
// label want it.
func (p Policy) String() string {
	switch p {
	case RoundRobin:
		return "round_robin"
	case Random:
		return "random"
	case LeastConnections:
		return "least_connections"
	default:
		return "unknown"
	}
}

// selectRoundRobin returns healthy[cursor] and the advanced cursor (wrapping,
// and clamping any out-of-range drift to 0 first). The updated cursor is
// returned alongside the chosen endpoint since the caller owns the registry's
// cursor field.
func selectRoundRobin(healthy []endpoint.Endpoint, cursor int) (endpoint.Endpoint, int) {
	if cursor < 0 || cursor >= len(healthy) {
		cursor = 0
	}
	picked := healthy[cursor]
	return picked, (cursor + 1) % len(healthy)
}

// selectRandom draws a uniformly distributed index into healthy via rng.
// An out-of-range computed index (which should not happen for a correctly
// seeded rng) falls back to healthy[0].
func selectRandom(healthy []endpoint.Endpoint, rng *rand.Rand) endpoint.Endpoint {
	idx := int(float64(len(healthy)) * rng.Float64())
	if idx < 0 || idx >= len(healthy) {
		idx = 0
	}
	return healthy[idx]
}

// selectLeastConnections returns the endpoint in healthy with the smallest
// entry in loads, first-wins in the iteration order of healthy (which is
// the original configured order, not map order).
func selectLeastConnections(healthy []endpoint.Endpoint, loads map[endpoint.Endpoint]int) endpoint.Endpoint {
	best := healthy[0]
	bestLoad := loads[best]
	for _, e := range healthy[1:] {
		if l := loads[e]; l < bestLoad {
			best = e
			bestLoad = l
		}
	}
	return best
}

// Thresholds configures the adaptive policy chooser's boundaries. The zero
// value is invalid; use DefaultThresholds.
type Thresholds struct {
	// RandomThreshold is the load spread above which Random takes over
	// from RoundRobin.
	RandomThreshold int
	// LeastConnectionsThreshold is the load spread above which
	// LeastConnections takes over from Random.
	LeastConnectionsThreshold int
}

// DefaultThresholds holds the stock boundaries (5, 10). Tunable constants,
// not derived values.
var DefaultThresholds = Thresholds{RandomThreshold: 5, LeastConnectionsThreshold: 10}

// chooseAdaptivePolicy computes the spread max(loads) - min(loads) over every
// registered backend (not filtered to healthy) and maps it to a policy: wide
// spread levels aggressively (LeastConnections), moderate spread decouples
// arrival pattern from worker (Random), small spread rotates cheaply
// (RoundRobin).
func chooseAdaptivePolicy(loads map[endpoint.Endpoint]int, t Thresholds) Policy {
	if len(loads) == 0 {
		return RoundRobin
	}
	first := true
	var min, max int
	for _, l := range loads {
		if first {
			min, max = l, l
			first = false
			continue
		}
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	spread := max - min
	switch {
	case spread > t.LeastConnectionsThreshold:
		return LeastConnections
	case spread > t.RandomThreshold:
		return Random
	default:
		return RoundRobin
	}
}
