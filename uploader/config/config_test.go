package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("SKYLIGHT_TEST_URL", "https://store.example")
	t.Setenv("SKYLIGHT_TEST_EMPTY", "")

	t.Run("plain reference", func(t *testing.T) {
		out, err := SubstituteEnvVars("url: ${SKYLIGHT_TEST_URL}")
		require.NoError(t, err)
		assert.Equal(t, "url: https://store.example", out)
	})

	t.Run("unset becomes empty", func(t *testing.T) {
		out, err := SubstituteEnvVars("key: ${SKYLIGHT_TEST_UNSET}")
		require.NoError(t, err)
		assert.Equal(t, "key: ", out)
	})

	t.Run("default applies when unset or empty", func(t *testing.T) {
		out, err := SubstituteEnvVars("a: ${SKYLIGHT_TEST_EMPTY:-fallback}\nb: ${SKYLIGHT_TEST_URL:-ignored}")
		require.NoError(t, err)
		assert.Equal(t, "a: fallback\nb: https://store.example", out)
	})

	t.Run("required reference errors when unset", func(t *testing.T) {
		_, err := SubstituteEnvVars("key: ${SKYLIGHT_TEST_UNSET:?store key is required}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store key is required")
	})

	t.Run("required reference passes when set", func(t *testing.T) {
		out, err := SubstituteEnvVars("url: ${SKYLIGHT_TEST_URL:?missing}")
		require.NoError(t, err)
		assert.Equal(t, "url: https://store.example", out)
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("SKYLIGHT_STORE_URL", "https://store.example")
	t.Setenv("SKYLIGHT_STORE_KEY", "secret")

	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, BackendREST, cfg.Store.Backend)
	assert.Equal(t, "https://store.example", cfg.Store.URL)
	assert.Equal(t, 30*time.Second, cfg.Store.TimeoutDuration())
	assert.Equal(t, 100, cfg.Upload.BatchSize)
	assert.Equal(t, 10, cfg.Upload.MaxBatchRetries)
	assert.Equal(t, "overall_score", cfg.Ranking.Metric)
	assert.Equal(t, 1, cfg.Ranking.Workers)
	assert.Equal(t, ":8080", cfg.API.Addr)
}

func TestValidate(t *testing.T) {
	t.Run("rest requires url and key", func(t *testing.T) {
		cfg := &Config{Store: StoreConfig{Backend: BackendREST, URL: "https://x"}}
		assert.Error(t, Validate(cfg))

		cfg.Store.Key = "k"
		assert.NoError(t, Validate(cfg))
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		cfg := &Config{Store: StoreConfig{Backend: BackendPostgres}}
		assert.Error(t, Validate(cfg))
	})

	t.Run("memory needs nothing", func(t *testing.T) {
		cfg := &Config{Store: StoreConfig{Backend: BackendMemory}}
		assert.NoError(t, Validate(cfg))
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := &Config{Store: StoreConfig{Backend: "redis"}}
		assert.Error(t, Validate(cfg))
	})
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("SKYLIGHT_TEST_KEY", "from-env")

	content := `
store:
  backend: rest
  url: https://store.example
  key: ${SKYLIGHT_TEST_KEY}
  timeout: 10s
upload:
  batch_size: 25
  validate_records: true
ranking:
  metric: average_local_error
  workers: 4
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Store.Key)
	assert.Equal(t, 10*time.Second, cfg.Store.TimeoutDuration())
	assert.Equal(t, 25, cfg.Upload.BatchSize)
	assert.True(t, cfg.Upload.ValidateRecords)
	assert.Equal(t, "average_local_error", cfg.Ranking.Metric)
	assert.Equal(t, 4, cfg.Ranking.Workers)
	// Untouched sections still get defaults.
	assert.Equal(t, 10, cfg.Upload.MaxBatchRetries)
	assert.Equal(t, ":8080", cfg.API.Addr)
}

func TestLoadFromFileMissingRequiredVar(t *testing.T) {
	content := "store:\n  backend: rest\n  url: https://x\n  key: ${SKYLIGHT_TEST_ABSENT:?key required}\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key required")
}

func TestBuildStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		st, err := BuildStore(&Config{Store: StoreConfig{Backend: BackendMemory}})
		require.NoError(t, err)
		assert.NotNil(t, st)
	})

	t.Run("rest", func(t *testing.T) {
		st, err := BuildStore(&Config{Store: StoreConfig{Backend: BackendREST, URL: "https://x", Key: "k"}})
		require.NoError(t, err)
		assert.NotNil(t, st)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := BuildStore(&Config{Store: StoreConfig{Backend: "redis"}})
		assert.Error(t, err)
	})
}
