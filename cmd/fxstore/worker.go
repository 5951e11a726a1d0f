package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/application/refresher"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/db"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/metrics"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const poolMetricsInterval = 15 * time.Second

func newWorkerCmd(c *cli) *cobra.Command {
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Refresh rates on a schedule and serve /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return c.withApp(cmd, func(a *app) error {
				r, err := refresher.New(a.rates, refresher.Config{
					Schedule:    c.cfg.RefreshSchedule,
					BaseCodes:   c.cfg.RefreshBases,
					Concurrency: c.cfg.RefreshConcurrency,
					RunOnStart:  runOnStart,
				}, a.logger)
				if err != nil {
					return err
				}
				return runWorker(ctx, a, r)
			})
		},
	}

	cmd.Flags().BoolVar(&runOnStart, "run-on-start", true, "refresh immediately instead of waiting for the first tick")
	return cmd
}

// newMetricsRouter routes /metrics through the request-id, logging and recovery middleware
func newMetricsRouter(log logger.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

func runWorker(ctx context.Context, a *app, r *refresher.Refresher) error {
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           newMetricsRouter(a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Metrics listener starting", map[string]interface{}{"addr": a.cfg.MetricsAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return r.Run(gctx)
	})

	if reporter, ok := a.backend.(db.PoolReporter); ok {
		g.Go(func() error {
			reportPoolMetrics(gctx, a.cfg.StoreDriver, reporter, a.logger)
			return nil
		})
	}

	return g.Wait()
}

func reportPoolMetrics(ctx context.Context, driver string, reporter db.PoolReporter, log logger.Logger) {
	ticker := time.NewTicker(poolMetricsInterval)
	defer ticker.Stop()

	for {
		stats, err := reporter.PoolStats()
		if err != nil {
			log.Warn("Failed to read pool stats", map[string]interface{}{"error": err.Error()})
		} else {
			metrics.UpdateDBPoolMetrics(driver, float64(stats.Total), float64(stats.Idle), float64(stats.Acquired), stats.Acquires)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
