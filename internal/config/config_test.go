package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "data", cfg.Source.Dir)
	assert.Equal(t, []string{"xml", "json", "csv", "xlsx"}, cfg.Source.Formats)
	assert.Equal(t, "result", cfg.Source.XMLElement)
	assert.Equal(t, ";", cfg.Source.CSVDelimiter)
	assert.InDelta(t, 0.6, cfg.Ingest.SimilarityThreshold, 1e-9)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.False(t, cfg.Ingest.DryRun)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, 10, cfg.Store.MaxConsecutiveFailures)
	assert.False(t, cfg.Enrich.Enabled)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Enrich.Model)
	assert.Equal(t, int64(128), cfg.Enrich.MaxTokens)
	assert.InDelta(t, 2.0, cfg.Enrich.RequestsPerSecond, 1e-9)
	assert.Equal(t, 5, cfg.Enrich.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Enrich.Cooldown())
	assert.Equal(t, "neo4j", cfg.Graph.Username)
	assert.Equal(t, 500, cfg.Graph.BatchSize)
	assert.False(t, cfg.Graph.Enabled())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: legis.db
log:
  level: debug
  format: console
ingest:
  similarity_threshold: 0.8
  concurrency: 8
graph:
  uri: bolt://localhost:7687
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "legis.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 0.8, cfg.Ingest.SimilarityThreshold, 1e-9)
	assert.Equal(t, 8, cfg.Ingest.Concurrency)
	assert.True(t, cfg.Graph.Enabled())
	// Defaults still apply for unset values
	assert.Equal(t, "data", cfg.Source.Dir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
source:
  dir: exports
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("LEGIS_STORE_DRIVER", "postgres")
	t.Setenv("LEGIS_SOURCE_DIR", "/srv/congreso")
	t.Setenv("LEGIS_INGEST_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "/srv/congreso", cfg.Source.Dir)
	assert.Equal(t, 2, cfg.Ingest.Concurrency)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
	zap.ReplaceGlobals(zap.NewNop())
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Source.Dir = "data"
	cfg.Ingest.SimilarityThreshold = 0.6
	cfg.Ingest.Concurrency = 4
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/legis"
	cfg.Store.MaxConsecutiveFailures = 10
	return cfg
}

func TestValidateIngest(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("ingest"))

	cfg := validDefaults()
	cfg.Ingest.SimilarityThreshold = 1
	assert.NoError(t, cfg.Validate("ingest"), "threshold 1 is inclusive")

	cfg = validDefaults()
	cfg.Source.Dir = ""
	cfg.Ingest.SimilarityThreshold = 0
	cfg.Ingest.Concurrency = 0
	cfg.Store.MaxConsecutiveFailures = 0
	cfg.Enrich.Enabled = true
	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.dir is required")
	assert.Contains(t, err.Error(), "similarity_threshold must be in (0, 1]")
	assert.Contains(t, err.Error(), "concurrency must be at least 1")
	assert.Contains(t, err.Error(), "max_consecutive_failures")
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate("migrate"), "store.database_url is required")

	cfg.Store.Driver = "sqlite"
	assert.NoError(t, cfg.Validate("query"))

	cfg.Store.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate("query"), "store.driver must be postgres or sqlite")
}

func TestValidateDryRunSkipsStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = ""
	cfg.Ingest.DryRun = true
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateUnknownMode(t *testing.T) {
	assert.ErrorContains(t, validDefaults().Validate("serve"), "unknown mode: serve")
}
