package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "offersync", cfg.App.Name)
	assert.Equal(t, 100, cfg.Upstream.PageSize)
	assert.Equal(t, 120, cfg.Upstream.MaxPages)
	assert.Equal(t, 50, cfg.Upstream.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Upstream.RequestTimeout)
	assert.True(t, cfg.Upstream.SortByPerformance)
	assert.Equal(t, 10, cfg.Crawler.Concurrency)
	assert.Equal(t, 3, cfg.Crawler.MaxRetries)
	assert.Equal(t, time.Second, cfg.Crawler.BaseDelay)
	assert.Equal(t, 2.0, cfg.Crawler.BackoffMultiplier)
	assert.Equal(t, 10.0, cfg.Alerting.ThresholdMinutes)
	assert.Equal(t, 5.0, cfg.Alerting.MultipleThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Alerting.DedupWindow)
	assert.Equal(t, 5, cfg.Alerting.MaxConcurrentSends)
	assert.Equal(t, "offer-sync", cfg.Lock.Key)
	assert.Equal(t, 10*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.Backoff)
	assert.Equal(t, 15*time.Minute, cfg.Queue.Timeout)
	assert.Equal(t, 10, cfg.Queue.ChunkSize)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
upstream:
  token: from-file
  country: PT
crawler:
  concurrency: 4
queue:
  backoff: 5s
`)
	t.Setenv("OFFERSYNC_UPSTREAM_TOKEN", "from-env")
	t.Setenv("OFFERSYNC_ALERTING_DEDUP_WINDOW", "12h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Upstream.Token)
	assert.Equal(t, "PT", cfg.Upstream.Country)
	assert.Equal(t, 4, cfg.Crawler.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Queue.Backoff)
	assert.Equal(t, 12*time.Hour, cfg.Alerting.DedupWindow)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OFFERSYNC_DATABASE_DSN=postgres://localhost/offers\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OFFERSYNC_DATABASE_DSN") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/offers", cfg.Database.DSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	cases := map[string]string{
		"batch too large":   "upstream:\n  batch_size: 80\n",
		"zero concurrency":  "crawler:\n  concurrency: 0\n",
		"refresh above ttl": "lock:\n  ttl: 1m\n  refresh_interval: 2m\n",
		"telegram no token": "alerting:\n  telegram:\n    enabled: true\n    chat_id: \"42\"\n",
		"zero chunk":        "queue:\n  chunk_size: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	assert.Equal(t, 500, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 20, cfg.ResolveMaxPoints(20))
}
