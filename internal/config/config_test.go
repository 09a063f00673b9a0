package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
coordinator:
  max_in_flight: 20
  query:
    keywords: [golang, backend]
    location: Berlin
schedule:
  spec: "@every 30m"
  run_on_start: true
resilience:
  retry:
    max_attempts: 3
dedup:
  backend: redis
  ttl: 12h
redis:
  addr: ${HARVESTER_TEST_REDIS}
browser:
  enabled: true
sources:
  - id: adzuna-de
    type: adzuna
    adzuna:
      app_id: ${HARVESTER_TEST_APP_ID}
      app_key: secret
      country: de
    rate_limit:
      capacity: 2
      refill_per_second: 0.5
  - id: acme
    type: rendered
    enabled: false
    page:
      url: https://careers.acme.example/jobs
      selectors:
        item: li.job
        title: h3
  - id: gh
    type: greenhouse
    greenhouse:
      boards: [acme, globex]
    circuit:
      failure_threshold: 2
`

func TestParse(t *testing.T) {
	t.Setenv("HARVESTER_TEST_REDIS", "redis:6380")
	t.Setenv("HARVESTER_TEST_APP_ID", "app-123")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20, cfg.Coordinator.MaxInFlight)
	assert.Equal(t, 10*time.Minute, cfg.Coordinator.CycleTimeout)
	assert.Equal(t, 256, cfg.Coordinator.OutputBuffer)
	assert.Equal(t, []string{"golang", "backend"}, cfg.Coordinator.Query.Keywords)
	assert.Equal(t, "@every 30m", cfg.Schedule.Spec)
	assert.True(t, cfg.Schedule.RunOnStart)

	assert.Equal(t, BackendRedis, cfg.Dedup.Backend)
	assert.Equal(t, 12*time.Hour, cfg.Dedup.TTL)
	assert.Equal(t, 100_000, cfg.Dedup.MaxEntries)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, "app-123", cfg.Sources[0].Adzuna.AppID)
	assert.True(t, cfg.Sources[0].IsEnabled())
	assert.False(t, cfg.Sources[1].IsEnabled())
	assert.Equal(t, "li.job", cfg.Sources[1].Page.Selectors.Item)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.Coordinator.MaxInFlight)
	assert.Equal(t, "@every 1h", cfg.Schedule.Spec)
	assert.Equal(t, 10, cfg.Resilience.RateLimit.Capacity)
	assert.Equal(t, 1.0, cfg.Resilience.RateLimit.RefillPerSecond)
	assert.Equal(t, 5, cfg.Resilience.Circuit.FailureThreshold)
	assert.Equal(t, 4, cfg.Resilience.Retry.MaxAttempts)
	assert.Equal(t, BackendMemory, cfg.Dedup.Backend)
	assert.Equal(t, 2, cfg.Browser.Instances)
	assert.Equal(t, 4, cfg.Browser.PagesPerInstance)
	assert.Equal(t, "job_harvester", cfg.RabbitMQ.Exchange)
}

func TestResilienceFor(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	adzuna := cfg.Resilience.For(cfg.Sources[0])
	assert.Equal(t, 2, adzuna.RateLimit.Capacity)
	assert.Equal(t, 0.5, adzuna.RateLimit.RefillPerSecond)
	assert.Equal(t, 3, adzuna.Retry.MaxAttempts)
	assert.Equal(t, 5, adzuna.Circuit.FailureThreshold)

	gh := cfg.Resilience.For(cfg.Sources[2])
	assert.Equal(t, 10, gh.RateLimit.Capacity)
	assert.Equal(t, 2, gh.Circuit.FailureThreshold)
	assert.Equal(t, time.Minute, gh.Circuit.CoolDown)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "postgres backend without database",
			yaml:    "dedup: {backend: postgres}",
			wantErr: "requires database.enabled",
		},
		{
			name:    "unknown backend",
			yaml:    "dedup: {backend: etcd}",
			wantErr: `unknown dedup backend "etcd"`,
		},
		{
			name:    "duplicate source id",
			yaml:    "sources: [{id: a, type: adzuna, adzuna: {}}, {id: a, type: adzuna, adzuna: {}}]",
			wantErr: `duplicate id "a"`,
		},
		{
			name:    "unknown source type",
			yaml:    "sources: [{id: a, type: ftp}]",
			wantErr: `unknown type "ftp"`,
		},
		{
			name:    "rendered without browser",
			yaml:    "sources: [{id: a, type: rendered, page: {url: 'https://a.example'}}]",
			wantErr: "requires browser.enabled",
		},
		{
			name:    "greenhouse without boards",
			yaml:    "sources: [{id: a, type: greenhouse, greenhouse: {}}]",
			wantErr: "at least one board",
		},
		{
			name:    "jitter out of range",
			yaml:    "resilience: {retry: {jitter: 1.5}}",
			wantErr: "jitter",
		},
		{
			name:    "negative sweep interval",
			yaml:    "dedup: {sweep_interval: -1m}",
			wantErr: "sweep_interval -1m0s is negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}
