package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job_harvester/internal/dedup"
	"job_harvester/internal/domain"
	"job_harvester/internal/normalize"
	"job_harvester/internal/output"
	"job_harvester/internal/resilience"
	"job_harvester/internal/source"
)

type funcSource struct {
	id    string
	fetch func(ctx context.Context) ([]domain.RawPosting, error)
}

func (s *funcSource) ID() string   { return s.id }
func (s *funcSource) Name() string { return s.id }

func (s *funcSource) Fetch(ctx context.Context, _ domain.Query) ([]domain.RawPosting, error) {
	return s.fetch(ctx)
}

func postings(p ...domain.RawPosting) func(context.Context) ([]domain.RawPosting, error) {
	return func(context.Context) ([]domain.RawPosting, error) { return p, nil }
}

func newPipeline(t *testing.T, sources ...source.Source) *Coordinator {
	t.Helper()
	return newPipelineWithConfig(t, Config{MaxInFlight: 8, CycleTimeout: 5 * time.Second}, sources...)
}

func newPipelineWithConfig(t *testing.T, cfg Config, sources ...source.Source) *Coordinator {
	t.Helper()

	registry := source.NewRegistry()
	for _, src := range sources {
		require.NoError(t, registry.Register(src.ID(), src))
	}

	return NewCoordinator(
		registry,
		resilience.NewSet(fastPolicy(), testLogger),
		normalize.New(nil),
		dedup.NewCache(dedup.CacheConfig{}, testLogger),
		nil,
		nil,
		testLogger,
		cfg,
	)
}

func TestPipeline_CrossSourceDedupAndRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := &funcSource{id: "c", fetch: func(context.Context) ([]domain.RawPosting, error) {
		if calls.Add(1) <= 3 {
			return nil, domain.Unavailable("c", errors.New("503 service unavailable"))
		}
		return []domain.RawPosting{{SourceID: "c", Title: "Platform Engineer", Company: "Y", URL: "https://c.example/jobs/9"}}, nil
	}}

	coordinator := newPipeline(t,
		&funcSource{id: "a", fetch: postings(domain.RawPosting{SourceID: "a", Title: "Eng", Company: "X", URL: "https://a/1"})},
		&funcSource{id: "b", fetch: postings(domain.RawPosting{SourceID: "b", Title: "Eng", Company: "X", URL: "https://a/1?utm_source=z"})},
		flaky,
	)

	jobs, result := coordinator.Stream(context.Background(), 16)

	var emitted []domain.NormalizedJob
	for job := range jobs {
		emitted = append(emitted, job)
	}
	res := <-result
	require.NoError(t, res.Err)

	require.Len(t, emitted, 2)
	urls := []string{emitted[0].URL, emitted[1].URL}
	assert.ElementsMatch(t, []string{"https://a/1", "https://c.example/jobs/9"}, urls)

	a, _ := res.Report.Source("a")
	b, _ := res.Report.Source("b")
	assert.Equal(t, 1, a.Emitted+b.Emitted)
	assert.Equal(t, 1, a.Duplicates+b.Duplicates)

	c, ok := res.Report.Source("c")
	require.True(t, ok)
	assert.Equal(t, domain.StatusOK, c.Status)
	assert.Equal(t, 4, c.Attempts)
	assert.True(t, c.Retried())
	assert.Equal(t, 1, c.Emitted)
}

func TestPipeline_SecondCycleSuppressesSeenJobs(t *testing.T) {
	coordinator := newPipeline(t,
		&funcSource{id: "a", fetch: postings(
			domain.RawPosting{SourceID: "a", ExternalID: "1", Title: "Eng", Company: "X", URL: "https://a/1"},
			domain.RawPosting{SourceID: "a", ExternalID: "2", Title: "SRE", Company: "X", URL: "https://a/2"},
		)},
	)

	for cycle, want := range []int{2, 0} {
		jobs, result := coordinator.Stream(context.Background(), 4)
		var n int
		for range jobs {
			n++
		}
		res := <-result
		require.NoError(t, res.Err)
		assert.Equal(t, want, n, "cycle %d", cycle)
	}
}

func TestPipeline_UndeliveredJobsEmitNextCycle(t *testing.T) {
	coordinator := newPipelineWithConfig(t, Config{MaxInFlight: 1, CycleTimeout: 200 * time.Millisecond},
		&funcSource{id: "a", fetch: postings(
			domain.RawPosting{SourceID: "a", ExternalID: "1", Title: "Eng", Company: "X", URL: "https://a/1"},
			domain.RawPosting{SourceID: "a", ExternalID: "2", Title: "SRE", Company: "X", URL: "https://a/2"},
			domain.RawPosting{SourceID: "a", ExternalID: "3", Title: "DBA", Company: "X", URL: "https://a/3"},
		)},
	)

	// Nobody reads the first buffer, so the second emit waits out the cycle.
	stalled := output.NewBuffer(1)
	report, err := coordinator.RunCycle(context.Background(), stalled)
	require.NoError(t, err)
	rep, _ := report.Source("a")
	assert.Equal(t, 1, rep.Emitted)
	assert.Equal(t, 2, rep.Dropped)

	buf := output.NewBuffer(16)
	report, err = coordinator.RunCycle(context.Background(), buf)
	require.NoError(t, err)
	rep, _ = report.Source("a")
	assert.Equal(t, 2, rep.Emitted)
	assert.Equal(t, 1, rep.Duplicates)

	buf.Close()
	var urls []string
	for job := range buf.C() {
		urls = append(urls, job.URL)
	}
	assert.ElementsMatch(t, []string{"https://a/2", "https://a/3"}, urls)
}

func TestPipeline_SameRoleInOtherCityIsNotDuplicate(t *testing.T) {
	coordinator := newPipeline(t,
		&funcSource{id: "board", fetch: postings(
			domain.RawPosting{SourceID: "board", Title: "Software Engineer", Company: "Acme", Location: "Berlin", URL: "https://board.example/jobs/101"},
			domain.RawPosting{SourceID: "board", Title: "Software Engineer", Company: "Acme", Location: "London", URL: "https://board.example/jobs/202"},
		)},
	)

	report, err := coordinator.RunCycle(context.Background(), discardSink{})
	require.NoError(t, err)
	rep, _ := report.Source("board")
	assert.Equal(t, 2, rep.Emitted)
	assert.Zero(t, rep.Duplicates)
}

func TestPipeline_DisabledSourceNotFetched(t *testing.T) {
	var called atomic.Bool
	registry := source.NewRegistry()
	require.NoError(t, registry.Register("off", &funcSource{id: "off", fetch: func(context.Context) ([]domain.RawPosting, error) {
		called.Store(true)
		return nil, nil
	}}))
	require.NoError(t, registry.SetEnabled("off", false))

	coordinator := NewCoordinator(
		registry,
		resilience.NewSet(fastPolicy(), testLogger),
		normalize.New(nil),
		dedup.NewCache(dedup.CacheConfig{}, testLogger),
		nil,
		nil,
		testLogger,
		Config{},
	)

	report, err := coordinator.RunCycle(context.Background(), discardSink{})
	require.NoError(t, err)
	assert.Empty(t, report.Sources)
	assert.False(t, called.Load())
}

type discardSink struct{}

func (discardSink) Emit(context.Context, domain.NormalizedJob) error { return nil }
