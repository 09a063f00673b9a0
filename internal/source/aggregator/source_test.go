package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job_harvester/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const helperOutput = `{"jobs":[{"id":"li-77","title":"Go Engineer","company":"Acme","location":"Remote","salary":"$150k","url":"https://www.linkedin.com/jobs/view/77?trk=public","posted_at":"2026-02-27"}]}`

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scrape", r.URL.Path)

		var req request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "linkedin", req.Board)
		assert.Equal(t, []string{"golang"}, req.Keywords)
		assert.Equal(t, "Berlin", req.Location)
		assert.Equal(t, 25, req.MaxResults)

		fmt.Fprint(w, helperOutput)
	}))
	defer srv.Close()

	src, err := New(Config{ID: "jobspy", Endpoint: srv.URL, Board: "linkedin", MaxResults: 25}, testLogger)
	require.NoError(t, err)

	postings, err := src.Fetch(context.Background(), domain.Query{Keywords: []string{"golang"}, Location: "Berlin"})
	require.NoError(t, err)
	require.Len(t, postings, 1)

	p := postings[0]
	assert.Equal(t, "jobspy", p.SourceID)
	assert.Equal(t, "li-77", p.ExternalID)
	assert.Equal(t, "$150k", p.Compensation)
	require.NotNil(t, p.PostedAt)
}

func TestFetch_HTTPFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    error
	}{
		{
			name:    "non-200 is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    domain.ErrSourceUnavailable,
		},
		{
			name: "timeout is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			timeout: 30 * time.Millisecond,
			want:    domain.ErrSourceUnavailable,
		},
		{
			name:    "helper error is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"error":"blocked by upstream"}`) },
			want:    domain.ErrSourceUnavailable,
		},
		{
			name:    "garbage is a protocol error",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `Traceback (most recent call last)`) },
			want:    domain.ErrSourceProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			src, err := New(Config{ID: "helper", Endpoint: srv.URL, Timeout: tt.timeout}, testLogger)
			require.NoError(t, err)

			_, err = src.Fetch(context.Background(), domain.Query{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestFetch_Stdio(t *testing.T) {
	requireShell(t)

	src, err := New(Config{
		ID:      "helper",
		Mode:    ModeStdio,
		Command: "sh",
		Args:    []string{"-c", "cat >/dev/null; echo '" + helperOutput + "'"},
	}, testLogger)
	require.NoError(t, err)

	postings, err := src.Fetch(context.Background(), domain.Query{})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "Go Engineer", postings[0].Title)
}

func TestFetch_StdioFailures(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		want    error
	}{
		{"non-zero exit", "echo 'boom' >&2; exit 3", 0, domain.ErrSourceUnavailable},
		{"timeout", "sleep 5", 50 * time.Millisecond, domain.ErrSourceUnavailable},
		{"bad output", "echo 'not json'", 0, domain.ErrSourceProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := New(Config{ID: "helper", Mode: ModeStdio, Command: "sh", Args: []string{"-c", tt.script}, Timeout: tt.timeout}, testLogger)
			require.NoError(t, err)

			_, err = src.Fetch(context.Background(), domain.Query{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Endpoint: "http://localhost:8000"}, testLogger)
	assert.Error(t, err)

	_, err = New(Config{ID: "x"}, testLogger)
	assert.Error(t, err)

	_, err = New(Config{ID: "x", Mode: ModeStdio}, testLogger)
	assert.Error(t, err)

	_, err = New(Config{ID: "x", Mode: "grpc", Endpoint: "localhost:9000"}, testLogger)
	assert.Error(t, err)
}
