package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"job_harvester/internal/domain"
	"job_harvester/internal/service"
)

// Cycler runs one fetch cycle into out.
type Cycler interface {
	RunCycle(ctx context.Context, out service.Sink) (*domain.CycleReport, error)
}

type Config struct {
	// Spec is a robfig/cron schedule, e.g. "@every 1h" or "0 */6 * * *".
	Spec       string
	RunOnStart bool
	// Timeout bounds a single triggered run. Zero leaves the cycle's own
	// timeout in charge.
	Timeout time.Duration
}

type Scheduler struct {
	cycler Cycler
	sink   service.Sink
	config Config
	logger *slog.Logger
	cron   *cron.Cron
	wg     sync.WaitGroup
}

func NewScheduler(cycler Cycler, sink service.Sink, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Spec == "" {
		cfg.Spec = "@every 1h"
	}
	logger = logger.With("component", "scheduler")
	cronLogger := slogAdapter{logger: logger}

	return &Scheduler{
		cycler: cycler,
		sink:   sink,
		config: cfg,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start schedules cycles and blocks until ctx is cancelled. A running cycle
// is allowed to finish before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.config.Spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.config.Spec, err)
	}

	s.logger.Info("scheduler started", "spec", s.config.Spec, "run_on_start", s.config.RunOnStart)
	s.cron.Start()

	if s.config.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx)
		}()
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	_, err := s.cycler.RunCycle(ctx, s.sink)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCycleInProgress):
		s.logger.Warn("previous cycle still running, skipping trigger")
	default:
		s.logger.Error("fetch cycle failed", "error", err)
	}
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}
