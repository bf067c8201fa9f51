// Package workersource supplies the initial worker address list at startup,
// behind a single contract so the registry never knows whether its backing
// store is a database or a literal config list.
package workersource

import "context"

// WorkerSource returns the configured worker addresses as raw host:port
// text; parsing into endpoint.Endpoint happens one layer up, at the call
// site in cmd/loadbalancer, so this package stays free of that dependency.
type WorkerSource interface {
	ListWorkers(ctx context.Context) ([]string, error)
}

// StaticWorkerSource wraps a literal address list supplied directly via
// configuration, used by tests and by deployments that skip Postgres.
type StaticWorkerSource struct {
	addrs []string
}

// NewStatic constructs a StaticWorkerSource over addrs.
func NewStatic(addrs []string) StaticWorkerSource {
	return StaticWorkerSource{addrs: append([]string(nil), addrs...)}
}

// ListWorkers returns the configured slice verbatim; it never errors.
func (s StaticWorkerSource) ListWorkers(_ context.Context) ([]string, error) {
	return s.addrs, nil
}
