package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zainen/load-balancer/pkg/config"
	"github.com/zainen/load-balancer/pkg/dispatch"
	"github.com/zainen/load-balancer/pkg/endpoint"
	"github.com/zainen/load-balancer/pkg/health"
	"github.com/zainen/load-balancer/pkg/logging"
	"github.com/zainen/load-balancer/pkg/metrics"
	"github.com/zainen/load-balancer/pkg/registry"
	"github.com/zainen/load-balancer/pkg/workersource"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Start the proxy listener, health prober, and metrics server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logging.Init(cfg.LogLevel, cfg.LogPretty)
	log := logging.Component("main")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addrs, err := loadWorkerAddresses(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load worker list, continuing with an empty list")
		addrs = nil
	}

	endpoints := make([]endpoint.Endpoint, len(addrs))
	for i, a := range addrs {
		e, err := endpoint.Parse(a)
		if err != nil {
			return fmt.Errorf("main: %w", err)
		}
		endpoints[i] = e
	}

	m := metrics.New()
	reg, err := registry.New(endpoints,
		registry.WithMetrics(m),
		registry.WithThresholds(registry.Thresholds{
			RandomThreshold:           cfg.RandomThreshold,
			LeastConnectionsThreshold: cfg.LeastConnectionsThreshold,
		}),
	)
	if err != nil {
		return fmt.Errorf("main: failed to construct registry: %w", err)
	}

	prober := health.New(reg, cfg.ProbeDialTimeout, m)
	dispatcher := dispatch.New(reg, prober, m)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("main: failed to bind listen address %s: %w", cfg.ListenAddr, err)
	}
	log.Info().Str("addr", cfg.ListenAddr).Int("workers", len(endpoints)).Msg("listening for inbound connections")

	metricsServer := newMetricsServer(cfg.MetricsAddr)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		prober.Run(groupCtx, cfg.HealthCheckInterval)
		return nil
	})
	group.Go(func() error {
		return dispatcher.Serve(groupCtx, listener)
	})
	group.Go(func() error {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("main: metrics server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func loadWorkerAddresses(ctx context.Context, cfg *config.Config) ([]string, error) {
	var source workersource.WorkerSource
	if cfg.DatabaseURL != "" {
		pg, err := workersource.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		source = pg
	} else {
		source = workersource.NewStatic(cfg.StaticWorkers)
	}
	return source.ListWorkers(ctx)
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}
