package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"job_harvester/internal/browser"
	"job_harvester/internal/config"
	"job_harvester/internal/dedup"
	"job_harvester/internal/domain"
	"job_harvester/internal/metrics"
	"job_harvester/internal/normalize"
	"job_harvester/internal/output"
	"job_harvester/internal/publisher"
	"job_harvester/internal/resilience"
	"job_harvester/internal/scheduler"
	"job_harvester/internal/service"
	"job_harvester/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single fetch cycle and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, *once, logger); err != nil {
		logger.Error("harvester stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if cfg.Metrics.Addr != "" {
		srv := m.Server(cfg.Metrics.Addr)
		go func() {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var db *sqlx.DB
	if cfg.Database.Enabled {
		var err error
		db, err = sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("connected to database")
	}

	guards := resilience.NewSet(policyFor(cfg.Resilience), logger)
	guards.OnStateChange(func(sourceID string, from, to resilience.CircuitStatus) {
		m.CircuitChanged(sourceID, int(to), to.String())
		logger.Info("circuit state changed", "source", sourceID, "from", from.String(), "to", to.String())
	})
	m.GaugeFunc("resilience", "open_circuits", "Sources whose circuit is currently open", func() float64 {
		var open int
		for _, st := range guards.States() {
			if st.Circuit == resilience.CircuitOpen {
				open++
			}
		}
		return float64(open)
	})

	var pool *browser.Pool
	if cfg.Browser.Enabled && needsBrowser(cfg) {
		var err error
		pool, err = newBrowserPool(ctx, cfg.Browser, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := pool.Close(closeCtx); err != nil {
				logger.Warn("failed to close browser pool", "error", err)
			}
		}()
		m.GaugeFunc("browser", "pages_in_use", "Browser pages currently leased", func() float64 {
			return float64(pool.InUse())
		})
		m.GaugeFunc("browser", "pages_total", "Browser page slots in the pool", func() float64 {
			return float64(pool.Size())
		})
	}

	registry, err := buildSources(cfg, pool, guards, logger)
	if err != nil {
		return err
	}

	var classifier normalize.Classifier
	if cfg.TaxonomyPath != "" {
		taxonomy, err := normalize.LoadTaxonomy(cfg.TaxonomyPath)
		if err != nil {
			return err
		}
		classifier = taxonomy
	}

	checker, err := newDedup(ctx, cfg, db, m, logger)
	if err != nil {
		return err
	}

	var recorder service.RunRecorder
	if db != nil {
		recorder = postgres.NewSourceStateStore(db, postgres.NewTransactionManager(db))
	}

	var pub *publisher.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		pub, err = publisher.NewRabbitMQ(publisher.Config{
			URL:          cfg.RabbitMQ.URL,
			Exchange:     cfg.RabbitMQ.Exchange,
			ExchangeType: cfg.RabbitMQ.ExchangeType,
			RoutingKey:   cfg.RabbitMQ.RoutingKey,
			QueueName:    cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	coordinator := service.NewCoordinator(
		registry,
		guards,
		normalize.New(classifier),
		checker,
		recorder,
		m,
		logger,
		service.Config{
			MaxInFlight:  cfg.Coordinator.MaxInFlight,
			CycleTimeout: cfg.Coordinator.CycleTimeout,
			Query:        queryFrom(cfg.Coordinator.Query),
		},
	)

	defer logStates(guards, logger)

	if once {
		jobs, result := coordinator.Stream(ctx, cfg.Coordinator.OutputBuffer)
		consume(context.WithoutCancel(ctx), jobs, pub, logger)
		res := <-result
		return res.Err
	}

	buf := output.NewBuffer(cfg.Coordinator.OutputBuffer)
	consumeCtx, stopConsume := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsume()
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		consume(consumeCtx, buf.C(), pub, logger)
	}()

	sched := scheduler.NewScheduler(coordinator, buf, scheduler.Config{
		Spec:       cfg.Schedule.Spec,
		RunOnStart: cfg.Schedule.RunOnStart,
		Timeout:    cfg.Schedule.Timeout,
	}, logger)

	logger.Info("starting job harvester",
		"sources", registry.Len(),
		"schedule", cfg.Schedule.Spec,
		"dedup_backend", cfg.Dedup.Backend,
	)

	err = sched.Start(ctx)
	buf.Close()

	select {
	case <-consumed:
	case <-time.After(shutdownTimeout):
		logger.Warn("output not drained before shutdown", "pending", buf.Len())
		stopConsume()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newDedup(ctx context.Context, cfg *config.Config, db *sqlx.DB, m *metrics.Metrics, logger *slog.Logger) (service.DuplicateChecker, error) {
	switch cfg.Dedup.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		context.AfterFunc(ctx, func() { client.Close() })
		logger.Info("using redis dedup store", "addr", cfg.Redis.Addr)
		return dedup.NewRedisStore(client, cfg.Dedup.TTL), nil

	case config.BackendPostgres:
		store := postgres.NewDedupStore(db, postgres.NewTransactionManager(db), cfg.Dedup.TTL, logger)
		store.StartSweeper(ctx, cfg.Dedup.SweepInterval, cfg.Dedup.MaxEntries)
		logger.Info("using postgres dedup store")
		return store, nil

	default:
		cache := dedup.NewCache(dedup.CacheConfig{
			TTL:        cfg.Dedup.TTL,
			MaxEntries: cfg.Dedup.MaxEntries,
		}, logger)
		cache.StartSweeper(ctx, cfg.Dedup.SweepInterval)
		m.GaugeFunc("dedup", "entries", "Keys held by the in-memory dedup cache", func() float64 {
			return float64(cache.Len())
		})
		return cache, nil
	}
}

// consume hands jobs to RabbitMQ when configured, otherwise writes them to
// stdout as JSON lines.
func consume(ctx context.Context, jobs <-chan domain.NormalizedJob, pub *publisher.RabbitMQ, logger *slog.Logger) {
	if pub != nil {
		published, failed := pub.Drain(ctx, jobs)
		logger.Info("output drained", "published", published, "failed", failed)
		return
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := enc.Encode(job); err != nil {
				logger.Error("failed to write job", "error", err)
			}
		}
	}
}

func logStates(guards *resilience.Set, logger *slog.Logger) {
	for _, st := range guards.States() {
		logger.Debug("source state",
			"source", st.SourceID,
			"circuit", st.Circuit.String(),
			"consecutive_failures", st.ConsecutiveFailures,
			"tokens", st.Tokens,
		)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}
