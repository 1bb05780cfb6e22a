package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "./data/db.json", cfg.Store.Path)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Import.Interval)
	assert.Equal(t, 4, cfg.Import.Concurrency)
	assert.Equal(t, 10, cfg.Query.DefaultLimit)
	assert.Equal(t, 100, cfg.Query.MaxIDs)
	assert.Equal(t, "algolia", cfg.Sources.Zbau.Mode)
	assert.Equal(t, "Haus33", cfg.Sources.Haus33.Location)
	assert.Equal(t, []string{"techno"}, cfg.Sources.Rakete.DefaultCategories)
	assert.Equal(t, "https://dieraketenbg.ticket.io/", cfg.Sources.Rakete.URL)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
store:
  driver: s3
query:
  default_limit: 25
sources:
  haus33:
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Query.DefaultLimit)
	assert.False(t, cfg.Sources.Haus33.Enabled)
	assert.True(t, cfg.Sources.Rakete.Enabled)
}

func TestLoadConfigExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("EVENTS_QUERY_MAX_IDS", "50")
	t.Setenv("EVENTS_SOURCES_ZBAU_FALLBACK_FILE", "/tmp/zbau.json")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Query.MaxIDs)
	assert.Equal(t, "/tmp/zbau.json", cfg.Sources.Zbau.FallbackFile)
}

func TestFormatIndex(t *testing.T) {
	assert.Equal(t, "vulture-events", FormatIndex(ElasticConfig{Prefix: "vulture"}, "events"))
}
