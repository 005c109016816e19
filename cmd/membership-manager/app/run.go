package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/citusdata/membership-manager/internal/cluster"
	"github.com/citusdata/membership-manager/internal/config"
	"github.com/citusdata/membership-manager/internal/docker"
	"github.com/citusdata/membership-manager/internal/engine"
	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/reconciler"
	"github.com/citusdata/membership-manager/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the membership manager",
	Long: `Run the membership manager inside its Docker Compose project.

The manager resolves its compose project from its own container, connects to
the Citus coordinator, reconciles the coordinator's worker list against the
running worker containers, and then follows container lifecycle events until
stopped.`,
	RunE: runManager,
}

const (
	metricsReadHeaderTimeout = 10 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

func runManager(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	api, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() {
		_ = api.Close()
	}()

	scope, err := docker.ResolveScope(ctx, api, cfg.OwnHostname)
	if err != nil {
		return fmt.Errorf("failed to resolve compose project scope: %w", err)
	}
	logger.Infof("managing workers of compose project %q", scope)

	coordinator, err := cluster.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer coordinator.Close()

	telemetry.Register()
	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		metricsServer = startMetricsListener(cfg.MetricsAddress)
	}

	rec := reconciler.New()
	executor := reconciler.NewExecutor(coordinator, rec.CompleteCommand)
	executor.Start()

	eng := engine.New(
		docker.NewWatcher(api, scope),
		rec,
		executor,
		engine.NewReadiness(cfg.ReadinessFile),
	)
	runErr := eng.Run(ctx)

	// Let an in-flight membership command run to completion before the
	// coordinator pool is released.
	logger.Info("shutting down, draining pending commands")
	executor.Stop()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("failed to shut down metrics listener: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}

// startMetricsListener serves the Prometheus endpoint in the background.
func startMetricsListener(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		logger.Infof("metrics listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics listener failed: %v", err)
		}
	}()
	return server
}
