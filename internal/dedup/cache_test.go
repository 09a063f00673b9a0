package dedup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job_harvester/internal/domain"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(cfg CacheConfig) (*Cache, *clock) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewCacheWithClock(cfg, testLogger(), clk.Now), clk
}

func job(ext, url, fp string) *domain.NormalizedJob {
	j := &domain.NormalizedJob{ExternalID: ext, URL: url, Fingerprint: fp}
	if fp != "" {
		j.Description = "description for " + fp
	}
	return j
}

func TestCache_Idempotence(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	j := job("a:1", "https://a/1", "fp1")
	ctx := context.Background()

	dup, err := c.IsDuplicate(ctx, j)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = c.IsDuplicate(ctx, j)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestCache_MatchesAnyKey(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		first *domain.NormalizedJob
		next  *domain.NormalizedJob
		dup   bool
	}{
		{"same external id, different url", job("a:1", "https://a/1", "fp1"), job("a:1", "https://b/9", "fp9"), true},
		{"same url, different fingerprint", job("a:1", "https://a/1", "fp1"), job("b:7", "https://a/1", "fp9"), true},
		{"same fingerprint only", job("a:1", "https://a/1", "fp1"), job("", "", "fp1"), true},
		{"nothing shared", job("a:1", "https://a/1", "fp1"), job("a:2", "https://a/2", "fp2"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(CacheConfig{})

			dup, err := c.IsDuplicate(ctx, tt.first)
			require.NoError(t, err)
			require.False(t, dup)

			dup, err = c.IsDuplicate(ctx, tt.next)
			require.NoError(t, err)
			assert.Equal(t, tt.dup, dup)
		})
	}
}

func TestCache_DuplicateDoesNotMutate(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	ctx := context.Background()

	_, _ = c.IsDuplicate(ctx, job("a:1", "https://a/1", "fp1"))
	dup, _ := c.IsDuplicate(ctx, job("a:1", "https://new/2", "fp2"))
	require.True(t, dup)

	_, ok := c.Lookup(prefixURL + "https://new/2")
	assert.False(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCache_ConcurrentSameJob(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	j := job("a:1", "https://a/1", "fp1")

	const n = 64
	var fresh, dups atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dup, err := c.IsDuplicate(context.Background(), j)
			if err != nil {
				return
			}
			if dup {
				dups.Add(1)
			} else {
				fresh.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
	assert.Equal(t, int32(n-1), dups.Load())
}

func TestCache_TTLExpiry(t *testing.T) {
	c, clk := newTestCache(CacheConfig{TTL: time.Hour})
	ctx := context.Background()
	j := job("", "", "fp1")

	dup, _ := c.IsDuplicate(ctx, j)
	require.False(t, dup)

	clk.Advance(59 * time.Minute)
	dup, _ = c.IsDuplicate(ctx, j)
	assert.True(t, dup)

	clk.Advance(time.Minute)
	dup, _ = c.IsDuplicate(ctx, j)
	assert.False(t, dup, "expired key must be forgotten")
}

func TestCache_Sweep(t *testing.T) {
	c, clk := newTestCache(CacheConfig{TTL: time.Minute})
	ctx := context.Background()

	_, _ = c.IsDuplicate(ctx, job("a:1", "https://a/1", "fp1"))
	clk.Advance(30 * time.Second)
	_, _ = c.IsDuplicate(ctx, job("", "", "fp2"))
	require.Equal(t, 4, c.Len())

	clk.Advance(45 * time.Second)
	assert.Equal(t, 3, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldestOverCapacity(t *testing.T) {
	c, clk := newTestCache(CacheConfig{MaxEntries: 4})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = c.IsDuplicate(ctx, job("", fmt.Sprintf("https://a/%d", i), fmt.Sprintf("fp%d", i)))
		clk.Advance(time.Second)
	}

	assert.LessOrEqual(t, c.Len(), 4)
	_, ok := c.Lookup(prefixFingerprint + "fp0")
	assert.False(t, ok, "oldest record evicted first")
	_, ok = c.Lookup(prefixFingerprint + "fp2")
	assert.True(t, ok)
}

func TestCache_Forget(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	ctx := context.Background()
	j := job("a:1", "https://a/1", "fp1")

	_, _ = c.IsDuplicate(ctx, job("b:1", "https://b/1", "fp9"))
	dup, err := c.IsDuplicate(ctx, j)
	require.NoError(t, err)
	require.False(t, dup)
	require.Equal(t, 6, c.Len())

	require.NoError(t, c.Forget(ctx, j))
	assert.Equal(t, 3, c.Len())

	dup, err = c.IsDuplicate(ctx, j)
	require.NoError(t, err)
	assert.False(t, dup, "forgotten job is new again")
}

func TestCache_ForgetLeavesOtherRecords(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	ctx := context.Background()

	_, _ = c.IsDuplicate(ctx, job("a:1", "https://a/1", "fp1"))

	// Shares the url key but was never recorded under it.
	require.NoError(t, c.Forget(ctx, job("b:2", "https://a/1", "fp2")))
	require.NoError(t, c.Forget(ctx, job("", "https://a/1", "")))
	assert.Equal(t, 3, c.Len())

	dup, _ := c.IsDuplicate(ctx, job("a:1", "", ""))
	assert.True(t, dup)
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		job  *domain.NormalizedJob
		want []string
	}{
		{
			name: "all identifiers",
			job:  job("a:1", "https://a/1", "fp1"),
			want: []string{"ext:a:1", "url:https://a/1", "fp:fp1"},
		},
		{
			name: "fingerprint without description",
			job:  &domain.NormalizedJob{URL: "https://a/jobs/101", Fingerprint: "fp1"},
			want: []string{"url:https://a/jobs/101"},
		},
		{
			name: "nothing",
			job:  &domain.NormalizedJob{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keys(tt.job))
		})
	}
}

func TestCache_NoKeys(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	dup, err := c.IsDuplicate(context.Background(), &domain.NormalizedJob{})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Zero(t, c.Len())
}
