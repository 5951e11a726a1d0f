// Package refresher keeps the stored snapshots of configured base codes fresh on a schedule
package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/metrics"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/middleware"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// JobName labels the refresh job in logs and metrics
const JobName = "refresh_rates"

// RateRefresher refreshes one base code
type RateRefresher interface {
	Refresh(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error)
}

// Config controls the refresh schedule
type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor such as "@every 15m"
	Schedule string
	// BaseCodes are refreshed on every run
	BaseCodes []string
	// Concurrency bounds parallel refreshes within a run; values below 1 mean 1
	Concurrency int
	// RunOnStart triggers a run as soon as Run is called
	RunOnStart bool
}

// Refresher runs RateRefresher.Refresh for every configured base code on a cron schedule
type Refresher struct {
	target   RateRefresher
	cfg      Config
	schedule cron.Schedule
	logger   logger.Logger
}

// New validates the configuration and creates a Refresher
func New(target RateRefresher, cfg Config, log logger.Logger) (*Refresher, error) {
	if len(cfg.BaseCodes) == 0 {
		return nil, fmt.Errorf("at least one base code is required")
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Refresher{
		target:   target,
		cfg:      cfg,
		schedule: sched,
		logger:   logger.OrDefault(log).WithField("job", JobName),
	}, nil
}

// RunOnce refreshes every configured base code, continuing past failures.
// The returned error joins every failure of the run.
func (r *Refresher) RunOnce(ctx context.Context) error {
	ctx = middleware.WithRequestID(ctx, "")
	started := time.Now()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(r.cfg.Concurrency)

	for _, base := range r.cfg.BaseCodes {
		base := base
		g.Go(func() error {
			if _, err := r.target.Refresh(ctx, base); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", base, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	runErr := errors.Join(errs...)
	metrics.UpdateJobMetrics(JobName, started, runErr)

	fields := map[string]interface{}{
		"request_id":  middleware.GetRequestID(ctx),
		"base_codes":  len(r.cfg.BaseCodes),
		"failures":    len(errs),
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		r.logger.Error("Refresh run completed with errors", fields)
	} else {
		r.logger.Info("Refresh run completed", fields)
	}
	return runErr
}

// Next returns the next scheduled run after t
func (r *Refresher) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

// Run executes RunOnce on the schedule until ctx is cancelled. Overlapping
// runs are skipped. It waits for an in-flight run before returning.
func (r *Refresher) Run(ctx context.Context) error {
	clog := cronLogger{log: r.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(r.schedule, cron.FuncJob(func() {
		_ = r.RunOnce(ctx)
	}))

	r.logger.Info("Refresh worker starting", map[string]interface{}{
		"schedule":   r.cfg.Schedule,
		"base_codes": r.cfg.BaseCodes,
		"next_run":   r.Next(time.Now()).Format(time.RFC3339),
	})

	if r.cfg.RunOnStart {
		_ = r.RunOnce(ctx)
	}

	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()

	r.logger.Info("Refresh worker stopped", nil)
	return nil
}

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, l.fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := l.fields(keysAndValues)
	fields["error"] = err.Error()
	l.log.Error("cron: "+msg, fields)
}
