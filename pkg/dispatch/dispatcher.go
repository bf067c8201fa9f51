// Package dispatch implements the accept loop: for each inbound TCP
// connection it selects a backend from the registry, dials it, and spawns a
// relay task to pump bytes in both directions until either side closes.
package dispatch

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/zainen/load-balancer/pkg/endpoint"
	"github.com/zainen/load-balancer/pkg/health"
	"github.com/zainen/load-balancer/pkg/logging"
	"github.com/zainen/load-balancer/pkg/metrics"
	"github.com/zainen/load-balancer/pkg/registry"
)

const (
	outcomeRelayed           = "relayed"
	outcomeDroppedNoHealthy  = "dropped_no_healthy"
	outcomeDroppedConnectErr = "dropped_connect_failed"
)

// Dispatcher owns the accept loop bound to a single listener.
type Dispatcher struct {
	registry *registry.Registry
	prober   *health.Prober
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New constructs a Dispatcher over reg, using prober for the reactive
// on-failure health sweep.
func New(reg *registry.Registry, prober *health.Prober, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		prober:   prober,
		metrics:  m,
		log:      logging.Component("dispatch"),
	}
}

// Serve runs the accept loop against ln until ctx is canceled or Accept
// returns a non-recoverable error, which is fatal to the loop.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Error().Err(err).Msg("accept loop terminated")
			return err
		}
		go d.handle(ctx, conn)
	}
}

// handle runs the select, connect, retry-once, relay sequence for a single
// inbound connection.
func (d *Dispatcher) handle(ctx context.Context, client net.Conn) {
	picked, ok := d.registry.Select()
	if !ok {
		d.log.Error().Msg("no healthy backend, dropping connection")
		d.prober.ProbeOnce(ctx)
		d.countOutcome(outcomeDroppedNoHealthy)
		client.Close()
		return
	}

	backendConn, err := net.Dial("tcp", picked.String())
	if err != nil {
		d.log.Warn().Str("endpoint", picked.String()).Err(err).Msg("outbound connect failed, retrying once")
		d.registry.Release(picked)
		d.prober.ProbeOnce(ctx)

		picked, ok = d.registry.Select()
		if !ok {
			d.log.Error().Msg("retry found no healthy backend, dropping connection")
			d.countOutcome(outcomeDroppedNoHealthy)
			client.Close()
			return
		}
		backendConn, err = net.Dial("tcp", picked.String())
		if err != nil {
			d.log.Error().Str("endpoint", picked.String()).Err(err).Msg("retry connect failed, dropping connection")
			d.registry.Release(picked)
			d.countOutcome(outcomeDroppedConnectErr)
			client.Close()
			return
		}
	}

	d.countOutcome(outcomeRelayed)
	go d.relay(picked, client, backendConn)
}

// relay pumps bytes bidirectionally between client and backend until both
// halves close, then releases the backend's load exactly once. When one
// direction finishes, its destination is write-half-closed so the peer sees
// EOF and the opposite copy can drain and terminate.
func (d *Dispatcher) relay(picked endpoint.Endpoint, client, backend net.Conn) {
	defer d.registry.Release(picked)
	defer client.Close()
	defer backend.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, err := io.Copy(backend, client)
		logRelayErr(d.log, picked, "client->backend", err)
		closeWrite(backend)
		done <- struct{}{}
	}()
	go func() {
		_, err := io.Copy(client, backend)
		logRelayErr(d.log, picked, "backend->client", err)
		closeWrite(client)
		done <- struct{}{}
	}()
	<-done
	<-done
}

func closeWrite(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
}

func logRelayErr(log zerolog.Logger, picked endpoint.Endpoint, direction string, err error) {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	log.Error().Str("endpoint", picked.String()).Str("direction", direction).Err(err).Msg("relay I/O error")
}

func (d *Dispatcher) countOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.DispatchOutcomes.WithLabelValues(outcome).Inc()
	}
}
