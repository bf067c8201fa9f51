package registry

import (
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zainen/load-balancer/pkg/endpoint"
	"github.com/zainen/load-balancer/pkg/metrics"
)

func mustEndpoints(t *testing.T, texts ...string) []endpoint.Endpoint {
	t.Helper()
	out := make([]endpoint.Endpoint, len(texts))
	for i, s := range texts {
		out[i] = endpoint.MustParse(s)
	}
	return out
}

// The key sets of health and loads always equal addresses, no matter what
// sequence of Select/Release/SetHealth calls ran.
func TestRegistryConsistency(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001", "127.0.0.1:8002")
	r, err := New(addrs)
	require.NoError(t, err)

	r.ForcePolicy(RoundRobin)
	for i := 0; i < 10; i++ {
		e, ok := r.Select()
		require.True(t, ok)
		r.Release(e)
	}
	r.SetHealth(map[endpoint.Endpoint]bool{addrs[0]: true, addrs[1]: false})

	snap := r.Inspect()
	assert.Len(t, snap.Health, len(addrs))
	assert.Len(t, snap.Loads, len(addrs))
	for _, a := range addrs {
		_, healthOK := snap.Health[a]
		_, loadOK := snap.Loads[a]
		assert.True(t, healthOK, "health missing entry for %s", a)
		assert.True(t, loadOK, "loads missing entry for %s", a)
	}
}

// Loads never go negative; releasing a zero counter is a no-op.
func TestLoadNonNegativity(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000")
	r, err := New(addrs)
	require.NoError(t, err)

	r.Release(addrs[0])
	r.Release(addrs[0])

	snap := r.Inspect()
	assert.Equal(t, 0, snap.Loads[addrs[0]])
}

// Balanced select/release accounting returns every load to 0.
func TestBalancedAccounting(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001")
	r, err := New(addrs)
	require.NoError(t, err)

	var inFlight []endpoint.Endpoint
	for i := 0; i < 50; i++ {
		e, ok := r.Select()
		require.True(t, ok)
		inFlight = append(inFlight, e)
	}
	for _, e := range inFlight {
		r.Release(e)
	}

	snap := r.Inspect()
	for _, a := range addrs {
		assert.Equal(t, 0, snap.Loads[a])
	}
}

// No unhealthy endpoint is ever returned by Select.
func TestHealthyOnlyDispatch(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001", "127.0.0.1:8002")
	r, err := New(addrs)
	require.NoError(t, err)

	r.SetHealth(map[endpoint.Endpoint]bool{addrs[0]: true, addrs[1]: false, addrs[2]: false})

	for i := 0; i < 20; i++ {
		e, ok := r.Select()
		require.True(t, ok)
		assert.Equal(t, addrs[0], e)
	}
}

// All backends unhealthy yields (Endpoint{}, false).
func TestSelectReturnsFalseWhenNoneHealthy(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001")
	r, err := New(addrs)
	require.NoError(t, err)
	r.SetHealth(map[endpoint.Endpoint]bool{})

	_, ok := r.Select()
	assert.False(t, ok)
}

// Round-robin visits the healthy subset in cyclic order starting at the
// cursor's initial position, within floor/ceil(N/k) fairness.
func TestRoundRobinFairness(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001", "127.0.0.1:8002")
	r, err := New(addrs)
	require.NoError(t, err)
	r.ForcePolicy(RoundRobin)

	const n = 10
	counts := make(map[endpoint.Endpoint]int)
	var got []endpoint.Endpoint
	for i := 0; i < n; i++ {
		e, ok := r.Select()
		require.True(t, ok)
		counts[e]++
		got = append(got, e)
	}

	k := len(addrs)
	floor, ceil := n/k, (n+k-1)/k
	for _, a := range addrs {
		assert.GreaterOrEqual(t, counts[a], floor)
		assert.LessOrEqual(t, counts[a], ceil)
	}

	// Cyclic order from the initial cursor position: the first pick is
	// addrs[0], and each successive pick follows addrs in sequence, wrapping.
	assert.Equal(t, addrs[0], got[0])
	for i := 1; i < len(got); i++ {
		prevIdx := indexOf(addrs, got[i-1])
		curIdx := indexOf(addrs, got[i])
		assert.Equal(t, (prevIdx+1)%k, curIdx)
	}
}

// Two backends, three selections: the rotation is a, b, a.
func TestRoundRobinRotationOrder(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001")
	r, err := New(addrs)
	require.NoError(t, err)
	r.ForcePolicy(RoundRobin)

	var got []endpoint.Endpoint
	for i := 0; i < 3; i++ {
		e, ok := r.Select()
		require.True(t, ok)
		got = append(got, e)
	}
	assert.Equal(t, []endpoint.Endpoint{addrs[0], addrs[1], addrs[0]}, got)
}

func indexOf(addrs []endpoint.Endpoint, e endpoint.Endpoint) int {
	for i, a := range addrs {
		if a == e {
			return i
		}
	}
	return -1
}

// LeastConnections always returns a minimum-load healthy endpoint.
func TestLeastConnectionsCorrectness(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001", "127.0.0.1:8002")
	r, err := New(addrs)
	require.NoError(t, err)
	r.ForcePolicy(LeastConnections)

	// Each Select picks a minimum-load endpoint, ties going first-wins in
	// configured order, so five selections with no releases visit addrs[0],
	// addrs[1], addrs[2], addrs[0], addrs[1] and leave loads at 2, 2 and 1.
	for i := 0; i < 5; i++ {
		e, ok := r.Select()
		require.True(t, ok)
		assert.Equal(t, addrs[i%len(addrs)], e)
	}
	assert.Equal(t, 2, r.Inspect().Loads[addrs[0]])

	// The next selection must go to the now-strictly-least-loaded backend:
	// addrs[2], the only entry still at load 1.
	e, ok := r.Select()
	require.True(t, ok)
	assert.Equal(t, addrs[2], e)
}

// The adaptive chooser maps load spread to policy per the configured
// thresholds.
func TestAdaptiveTransition(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001", "127.0.0.1:8002")

	cases := []struct {
		name   string
		loads  []int
		expect Policy
	}{
		{"uniform", []int{0, 0, 0}, RoundRobin},
		{"moderate-spread", []int{0, 0, 7}, Random},
		{"wide-spread", []int{0, 0, 12}, LeastConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := New(addrs)
			require.NoError(t, err)

			loads := make(map[endpoint.Endpoint]int, len(addrs))
			for i, a := range addrs {
				loads[a] = tc.loads[i]
			}
			r.mu.Lock()
			r.loads = loads
			r.mu.Unlock()

			_, ok := r.Select()
			require.True(t, ok)

			got := r.Inspect().Policy
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestSelectRandomFallsBackWithinRange(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001")
	r, err := New(addrs, WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	r.ForcePolicy(Random)

	for i := 0; i < 20; i++ {
		e, ok := r.Select()
		require.True(t, ok)
		assert.Contains(t, addrs, e)
	}
}

// The backend_load gauge tracks Select and Release one for one.
func TestRegistryReportsLoadGauge(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000")
	m := metrics.New()
	r, err := New(addrs, WithMetrics(m))
	require.NoError(t, err)

	e, ok := r.Select()
	require.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendLoad.WithLabelValues(e.String())))

	r.Release(e)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendLoad.WithLabelValues(e.String())))
}

func TestNewRejectsEmptyAddresses(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, errEmptyAddresses)
}

func TestForcePolicyThenClear(t *testing.T) {
	addrs := mustEndpoints(t, "127.0.0.1:8000", "127.0.0.1:8001", "127.0.0.1:8002")
	r, err := New(addrs)
	require.NoError(t, err)

	r.ForcePolicy(LeastConnections)
	_, ok := r.Select()
	require.True(t, ok)
	assert.Equal(t, LeastConnections, r.Inspect().Policy)

	r.ClearForcedPolicy()
	_, ok = r.Select()
	require.True(t, ok)
	// Uniform loads after a single selection stay within the RoundRobin band.
	assert.Equal(t, RoundRobin, r.Inspect().Policy)
}
