package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"job_harvester/internal/domain"
	"job_harvester/internal/metrics"
	"job_harvester/internal/output"
	"job_harvester/internal/resilience"
	"job_harvester/internal/source"
)

const recordTimeout = 10 * time.Second

// State is the coordinator's position in a fetch cycle.
type State int32

const (
	StateIdle State = iota
	StateScheduling
	StateInFlight
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduling:
		return "scheduling"
	case StateInFlight:
		return "in_flight"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxInFlight bounds concurrent fetches across all sources.
	MaxInFlight  int
	CycleTimeout time.Duration
	Query        domain.Query
}

// Coordinator runs fetch cycles: every enabled source is fetched under its
// resilience guard, postings are normalized and deduplicated, and unique
// jobs are emitted to a sink.
type Coordinator struct {
	sources    SourceLister
	guards     *resilience.Set
	normalizer Normalizer
	dedup      DuplicateChecker
	recorder   RunRecorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	config     Config

	state atomic.Int32
}

// NewCoordinator wires a coordinator. recorder and m may be nil.
func NewCoordinator(
	sources SourceLister,
	guards *resilience.Set,
	normalizer Normalizer,
	dedup DuplicateChecker,
	recorder RunRecorder,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Coordinator {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 100
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Minute
	}
	return &Coordinator{
		sources:    sources,
		guards:     guards,
		normalizer: normalizer,
		dedup:      dedup,
		recorder:   recorder,
		metrics:    m,
		logger:     logger.With("component", "coordinator"),
		config:     cfg,
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// RunCycle fetches every enabled source once and emits unique jobs to out.
// Per-source failures are reported, never returned. The error is non-nil
// only when shared infrastructure fails (dedup store, closed output) or a
// cycle is already running; the partial report is still returned in the
// former case.
func (c *Coordinator) RunCycle(ctx context.Context, out Sink) (*domain.CycleReport, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateScheduling)) {
		c.metrics.ObserveCycle(nil, domain.ErrCycleInProgress)
		return nil, domain.ErrCycleInProgress
	}
	defer c.state.Store(int32(StateIdle))

	report := &domain.CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := c.logger.With("cycle_id", report.CycleID)

	ctx, cancel := context.WithTimeout(ctx, c.config.CycleTimeout)
	defer cancel()
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	sources := c.sources.ListEnabled()
	tasks := make([]domain.FetchTask, len(sources))
	for i, src := range sources {
		tasks[i] = domain.FetchTask{SourceID: src.ID(), Query: c.config.Query}
	}

	logger.Info("starting fetch cycle",
		"sources", len(tasks),
		"max_in_flight", c.config.MaxInFlight,
		"timeout", c.config.CycleTimeout,
	)

	results := make([]domain.SourceReport, len(tasks))
	sem := make(chan struct{}, c.config.MaxInFlight)
	var wg sync.WaitGroup

	c.state.Store(int32(StateInFlight))
	for i := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = domain.SourceReport{
				SourceID: tasks[i].SourceID,
				Status:   domain.StatusFailed,
				Error:    fmt.Sprintf("not started: %v", context.Cause(ctx)),
			}
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.runTask(ctx, &tasks[i], sources[i], out, abort, logger)
		}(i)
	}

	c.state.Store(int32(StateDraining))
	wg.Wait()

	report.Sources = results
	report.FinishedAt = time.Now()

	var fatal error
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.DeadlineExceeded) && !errors.Is(cause, context.Canceled) {
		fatal = cause
	}

	fetched, duplicates, emitted := report.Totals()
	if fatal != nil {
		logger.Error("fetch cycle aborted", "error", fatal, "emitted", emitted)
	} else {
		logger.Info("fetch cycle completed",
			"fetched", fetched,
			"duplicates", duplicates,
			"emitted", emitted,
			"duration", report.FinishedAt.Sub(report.StartedAt),
		)
		c.record(ctx, report, logger)
	}

	c.metrics.ObserveCycle(report, fatal)
	return report, fatal
}

// Stream runs one cycle in the background and returns its output, which is
// closed once the cycle drains, and a channel delivering the result.
func (c *Coordinator) Stream(ctx context.Context, size int) (<-chan domain.NormalizedJob, <-chan CycleResult) {
	buf := output.NewBuffer(size)
	done := make(chan CycleResult, 1)
	go func() {
		report, err := c.RunCycle(ctx, buf)
		buf.Close()
		done <- CycleResult{Report: report, Err: err}
	}()
	return buf.C(), done
}

// CycleResult is the outcome of a streamed cycle.
type CycleResult struct {
	Report *domain.CycleReport
	Err    error
}

func (c *Coordinator) runTask(
	ctx context.Context,
	task *domain.FetchTask,
	src source.Source,
	out Sink,
	abort context.CancelCauseFunc,
	logger *slog.Logger,
) (rep domain.SourceReport) {
	start := time.Now()
	rep = domain.SourceReport{SourceID: task.SourceID, Status: domain.StatusOK}
	logger = logger.With("source", task.SourceID)
	defer func() { rep.Duration = time.Since(start) }()

	var raw []domain.RawPosting
	outcome, err := c.guards.Guard(task.SourceID).Execute(ctx, func(ctx context.Context) error {
		postings, err := src.Fetch(ctx, task.Query)
		if err != nil {
			return err
		}
		raw = postings
		return nil
	})
	task.Attempts = outcome.Attempts
	rep.Attempts = outcome.Attempts

	if err != nil {
		rep.Error = err.Error()
		if errors.Is(err, domain.ErrCircuitOpen) {
			rep.Status = domain.StatusCircuitOpen
			logger.Warn("circuit open, skipping source", "attempts", outcome.Attempts)
			return rep
		}
		rep.Status = domain.StatusFailed
		logger.Warn("source skipped this cycle", "attempts", outcome.Attempts, "error", err)
		return rep
	}

	rep.Fetched = len(raw)
	for _, p := range raw {
		if p.SourceID == "" {
			p.SourceID = task.SourceID
		}

		job, err := c.normalizer.Normalize(p)
		if err != nil {
			rep.Invalid++
			logger.Debug("invalid posting", "title", p.Title, "error", err)
			continue
		}

		dup, err := c.dedup.IsDuplicate(ctx, &job)
		if err != nil {
			if ctx.Err() != nil {
				rep.Dropped++
				continue
			}
			abort(fmt.Errorf("dedup check: %w", err))
			rep.Status = domain.StatusFailed
			rep.Error = err.Error()
			return rep
		}
		if dup {
			rep.Duplicates++
			continue
		}

		if err := out.Emit(ctx, job); err != nil {
			c.forget(ctx, &job, logger)
			if errors.Is(err, domain.ErrOutputClosed) {
				abort(fmt.Errorf("emit: %w", err))
				rep.Status = domain.StatusFailed
				rep.Error = err.Error()
				return rep
			}
			rep.Dropped++
			continue
		}
		rep.Emitted++
	}

	if rep.Dropped > 0 {
		logger.Warn("cycle ended before all postings were emitted", "dropped", rep.Dropped)
	}
	logger.Debug("source done",
		"attempts", rep.Attempts,
		"fetched", rep.Fetched,
		"duplicates", rep.Duplicates,
		"emitted", rep.Emitted,
	)
	return rep
}

// forget withdraws the dedup keys of a job that never reached the sink, so a
// later cycle emits it.
func (c *Coordinator) forget(ctx context.Context, job *domain.NormalizedJob, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := c.dedup.Forget(ctx, job); err != nil {
		logger.Warn("failed to forget undelivered job", "url", job.URL, "error", err)
	}
}

func (c *Coordinator) record(ctx context.Context, report *domain.CycleReport, logger *slog.Logger) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := c.recorder.Record(ctx, report); err != nil {
		logger.Warn("failed to record cycle", "error", err)
	}
}
