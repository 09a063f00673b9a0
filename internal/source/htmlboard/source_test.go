package htmlboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job_harvester/internal/domain"
	"job_harvester/internal/source"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var selectors = source.Selectors{
	Item:     "article.job",
	Title:    "h2",
	Company:  ".company",
	Location: ".location",
	Link:     "h2 a",
	IDAttr:   "data-id",
}

func boardServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/jobs":
			page := r.URL.Query().Get("page")
			if page == "" {
				fmt.Fprint(w, `<html><body>
					<article class="job" data-id="a1"><h2><a href="/jobs/a1">Go Engineer</a></h2><span class="company">Acme</span><span class="location">Remote</span></article>
					<article class="job" data-id="a2"><h2><a href="/jobs/a2">Data Analyst</a></h2><span class="company">Beta</span></article>
					<a class="next" href="/jobs?page=2">Next</a>
				</body></html>`)
				return
			}
			fmt.Fprint(w, `<html><body>
				<article class="job" data-id="b1"><h2><a href="/jobs/b1">Platform Go Engineer</a></h2><span class="company">Gamma</span></article>
				<a class="next" href="/jobs?page=3">Next</a>
			</body></html>`)
		case "/busy":
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, `<html></html>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetch_FollowsPagesUpToLimit(t *testing.T) {
	srv, hits := boardServer(t)

	src, err := New(Config{ID: "board", URL: srv.URL + "/jobs", Selectors: selectors, NextSelector: "a.next", MaxPages: 2}, testLogger)
	require.NoError(t, err)

	postings, err := src.Fetch(context.Background(), domain.Query{})
	require.NoError(t, err)
	require.Len(t, postings, 3)
	assert.Equal(t, int64(2), hits.Load())

	assert.Equal(t, "a1", postings[0].ExternalID)
	assert.Equal(t, "Go Engineer", postings[0].Title)
	assert.Equal(t, srv.URL+"/jobs/a1", postings[0].URL)
	assert.Equal(t, "board", postings[0].SourceID)
	assert.Equal(t, "b1", postings[2].ExternalID)
}

func TestFetch_FiltersByQuery(t *testing.T) {
	srv, _ := boardServer(t)

	src, err := New(Config{URL: srv.URL + "/jobs", Selectors: selectors}, testLogger)
	require.NoError(t, err)

	postings, err := src.Fetch(context.Background(), domain.Query{Keywords: []string{"engineer"}})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "a1", postings[0].ExternalID)
}

func TestFetch_ClassifiesErrors(t *testing.T) {
	srv, _ := boardServer(t)

	tests := []struct {
		path       string
		want       error
		retryAfter time.Duration
	}{
		{"/busy", domain.ErrSourceRateLimited, 12 * time.Second},
		{"/down", domain.ErrSourceUnavailable, 0},
		{"/gone", domain.ErrSourceProtocol, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			src, err := New(Config{URL: srv.URL + tt.path, Selectors: selectors}, testLogger)
			require.NoError(t, err)

			_, err = src.Fetch(context.Background(), domain.Query{})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryAfter, domain.RetryAfter(err))
		})
	}
}

func TestFetch_Cancelled(t *testing.T) {
	srv, _ := boardServer(t)

	src, err := New(Config{URL: srv.URL + "/slow", Selectors: selectors}, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = src.Fetch(ctx, domain.Query{})
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{URL: "/relative", Selectors: selectors}, testLogger)
	assert.Error(t, err)

	_, err = New(Config{URL: "https://board.example/jobs"}, testLogger)
	assert.Error(t, err)
}
