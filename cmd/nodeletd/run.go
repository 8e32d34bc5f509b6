package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxorio/nodelet/pkg/config"
	"github.com/fluxorio/nodelet/pkg/core"
	"github.com/fluxorio/nodelet/pkg/health"
	"github.com/fluxorio/nodelet/pkg/loader"
	"github.com/fluxorio/nodelet/pkg/nodelet"
	"github.com/fluxorio/nodelet/pkg/observability/otel"
	"github.com/fluxorio/nodelet/pkg/observability/prometheus"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load the configured units and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, cmd.ErrOrStderr())
		},
	}
}

// runDaemon loads every unit in cfg, serves metrics and blocks until ctx
// is done. A unit that fails to load aborts startup.
func runDaemon(ctx context.Context, cfg config.Config, logOut io.Writer) (err error) {
	logger := cfg.Logging.Logger(logOut)
	core.SetDefaultLogger(logger)

	metrics := prometheus.NewMetrics("nodelet")
	unitOpts := []nodelet.Option{
		nodelet.WithMultiThreadedWorkers(cfg.Spinner.MTWorkers),
		nodelet.WithThreadPinning(cfg.Spinner.PinThreads),
		nodelet.WithObserver(metrics),
		nodelet.WithLifecycleObserver(metrics),
	}

	if cfg.Tracing.Enabled {
		tc := otel.DefaultConfig()
		tc.ServiceName = cfg.Tracing.ServiceName
		tc.Exporter = cfg.Tracing.Exporter
		tc.Endpoint = cfg.Tracing.Endpoint
		tc.SampleRate = cfg.Tracing.SampleRate
		if err := otel.Initialize(ctx, tc); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := otel.Shutdown(sctx); serr != nil {
				logger.Warn("flushing traces", "error", serr)
			}
		}()
		unitOpts = append(unitOpts, nodelet.WithInterceptor(otel.Interceptors()))
	}

	l, err := newLoader(loader.WithLogger(logger), loader.WithObserver(metrics), loader.WithNodeletOptions(unitOpts...))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, l.Close(sctx))
	}()

	checks := health.NewRegistry()
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, logger)
		srv.Handle("/healthz", checks.FastHTTPHandler())
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Stop(sctx)
		}()
	}

	for _, u := range cfg.Units {
		if _, err := l.Load(ctx, u.Name, u.Type, u.Remappings, u.Args); err != nil {
			return err
		}
		if dep, ok := l.Get(u.Name); ok {
			if hu, ok := dep.Unit.(health.Unit); ok {
				checks.RegisterWithTimeout("unit:"+u.Name, health.UnitProbe(hu), cfg.Metrics.HealthTimeout)
			}
		}
	}

	logger.Info("nodeletd running", "units", len(cfg.Units))
	<-ctx.Done()
	logger.Info("nodeletd shutting down")
	return nil
}
