// Package metrics holds the harvester's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"job_harvester/internal/domain"
)

const Namespace = "harvester"

type Metrics struct {
	// Cycle metrics
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram

	// Per-source metrics
	FetchedTotal    *prometheus.CounterVec
	InvalidTotal    *prometheus.CounterVec
	DuplicatesTotal *prometheus.CounterVec
	EmittedTotal    *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	SourceRunsTotal *prometheus.CounterVec

	// Resilience metrics
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec

	factory promauto.Factory
	reg     prometheus.Registerer
	gather  prometheus.Gatherer
}

// New registers every instrument with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{factory: factory, reg: reg, gather: reg}

	m.CyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycles_total",
			Help:      "Fetch cycles run, by result",
		},
		[]string{"result"},
	)
	m.CycleDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a fetch cycle",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	perSource := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: Namespace, Subsystem: "source", Name: name, Help: help},
			[]string{"source"},
		)
	}
	m.FetchedTotal = perSource("fetched_total", "Raw postings returned by a source")
	m.InvalidTotal = perSource("invalid_total", "Postings rejected by the normalizer")
	m.DuplicatesTotal = perSource("duplicates_total", "Postings dropped as duplicates")
	m.EmittedTotal = perSource("emitted_total", "Postings emitted downstream")
	m.DroppedTotal = perSource("dropped_total", "Unique postings not emitted before the cycle deadline")
	m.AttemptsTotal = perSource("attempts_total", "Fetch attempts, including retries")

	m.SourceRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "runs_total",
			Help:      "Per-cycle source outcomes",
		},
		[]string{"source", "status"},
	)

	m.CircuitState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Circuit state per source (0 closed, 1 open, 2 half-open)",
		},
		[]string{"source"},
	)
	m.CircuitTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "circuit",
			Name:      "transitions_total",
			Help:      "Circuit state transitions",
		},
		[]string{"source", "to"},
	)

	return m
}

// ObserveCycle records a finished cycle. report may be nil when the cycle
// aborted before producing one.
func (m *Metrics) ObserveCycle(report *domain.CycleReport, err error) {
	if m == nil {
		return
	}

	result := "ok"
	switch {
	case errors.Is(err, domain.ErrCycleInProgress):
		result = "skipped"
	case err != nil:
		result = "aborted"
	}
	m.CyclesTotal.WithLabelValues(result).Inc()

	if report == nil {
		return
	}
	if !report.FinishedAt.IsZero() {
		m.CycleDurationSeconds.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}
	for _, s := range report.Sources {
		m.FetchedTotal.WithLabelValues(s.SourceID).Add(float64(s.Fetched))
		m.InvalidTotal.WithLabelValues(s.SourceID).Add(float64(s.Invalid))
		m.DuplicatesTotal.WithLabelValues(s.SourceID).Add(float64(s.Duplicates))
		m.EmittedTotal.WithLabelValues(s.SourceID).Add(float64(s.Emitted))
		m.DroppedTotal.WithLabelValues(s.SourceID).Add(float64(s.Dropped))
		m.AttemptsTotal.WithLabelValues(s.SourceID).Add(float64(s.Attempts))
		m.SourceRunsTotal.WithLabelValues(s.SourceID, string(s.Status)).Inc()
	}
}

// CircuitChanged records a breaker transition; state is the numeric value of
// the new state.
func (m *Metrics) CircuitChanged(sourceID string, state int, name string) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(sourceID).Set(float64(state))
	m.CircuitTransitions.WithLabelValues(sourceID, name).Inc()
}

// GaugeFunc registers a gauge sampled from fn at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help},
		fn,
	)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gather, promhttp.HandlerOpts{Registry: m.reg})
}

// Server returns an HTTP server exposing /metrics on addr.
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
