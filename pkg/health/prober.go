// Package health implements the backend liveness probe: a hand-rolled
// HTTP/1.1 request over a raw TCP connection, classifying each backend as
// healthy or unhealthy for the registry to consume.
package health

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zainen/load-balancer/pkg/endpoint"
	"github.com/zainen/load-balancer/pkg/logging"
	"github.com/zainen/load-balancer/pkg/metrics"
	"github.com/zainen/load-balancer/pkg/registry"
)

// Outcome labels for the probe_results_total metric.
const (
	outcomeHealthy   = "healthy"
	outcomeUnhealthy = "unhealthy"
)

// Prober issues the health_check probe against every configured endpoint and
// installs the result into a Registry. A Prober has no mutable state beyond
// its dependencies, so a single instance can be shared between the periodic
// loop and reactive on-demand calls.
type Prober struct {
	registry *registry.Registry
	dialer   net.Dialer
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New constructs a Prober. dialTimeout bounds each backend's TCP connect
// (default 2s).
func New(reg *registry.Registry, dialTimeout time.Duration, m *metrics.Metrics) *Prober {
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	return &Prober{
		registry: reg,
		dialer:   net.Dialer{Timeout: dialTimeout},
		metrics:  m,
		log:      logging.Component("health"),
	}
}

// Run executes the periodic probe loop: ProbeOnce immediately, then every
// interval until ctx is canceled. Run blocks; callers start it in its own
// goroutine.
func (p *Prober) Run(ctx context.Context, interval time.Duration) {
	p.ProbeOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce probes every registry-configured endpoint sequentially and
// installs the combined result with a single SetHealth call. Safe to call
// both from the periodic loop and reactively from the dispatcher after a
// failed outbound connect.
func (p *Prober) ProbeOnce(ctx context.Context) {
	addrs := p.registry.Addresses()
	result := make(map[endpoint.Endpoint]bool, len(addrs))

	for _, e := range addrs {
		healthy := p.probeEndpoint(ctx, e)
		result[e] = healthy

		outcome := outcomeUnhealthy
		if healthy {
			outcome = outcomeHealthy
		}
		if p.metrics != nil {
			p.metrics.ProbeResults.WithLabelValues(e.String(), outcome).Inc()
		}
		p.log.Debug().Str("endpoint", e.String()).Bool("healthy", healthy).Msg("probe complete")
	}

	p.registry.SetHealth(result)
}

// probeEndpoint performs the single-round-trip raw-socket probe: dial,
// write the fixed request bytes, read the response, classify its status line.
func (p *Prober) probeEndpoint(ctx context.Context, e endpoint.Endpoint) bool {
	conn, err := p.dialer.DialContext(ctx, "tcp", e.String())
	if err != nil {
		p.log.Warn().Str("endpoint", e.String()).Err(err).Msg("probe dial failed")
		return false
	}
	defer conn.Close()

	request := fmt.Sprintf("GET /health_check HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", e.String())
	if _, err := conn.Write([]byte(request)); err != nil {
		p.log.Warn().Str("endpoint", e.String()).Err(err).Msg("probe write failed")
		return false
	}

	statusLine, err := readStatusLine(conn)
	if err != nil {
		p.log.Warn().Str("endpoint", e.String()).Err(err).Msg("probe read failed")
		return false
	}

	status := parseStatusLine(statusLine)
	return status < 400
}

// readStatusLine reads the response to EOF and returns its first line,
// including the line terminator. Everything after the first line is read and
// discarded; an error while draining it does not affect the returned line.
func readStatusLine(conn net.Conn) (string, error) {
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if line == "" {
		return "", err
	}
	_, _ = io.Copy(io.Discard, reader)
	return line, nil
}

// parseStatusLine extracts the status code from an HTTP/1.1 response line:
// split on ASCII space, fewer than 3 parts synthesizes 404, an unparseable
// second token synthesizes 500, otherwise the parsed integer.
func parseStatusLine(line string) int {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), " ")
	if len(parts) < 3 {
		return 404
	}
	code, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 500
	}
	return int(code)
}
