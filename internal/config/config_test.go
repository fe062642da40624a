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
	t.Cleanup(func() { os.Chdir(origDir) })
	t.Setenv("DATABRICKS_TOKEN", "")
	t.Setenv("EXTRACT_COMPLETION_TOKEN", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml or .env in the temp dir
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "extractions.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "databricks-meta-llama-3-3-70b-instruct", cfg.Completion.Model)
	assert.Equal(t, cfg.Completion.Model, cfg.Completion.ModelVersion)
	assert.Equal(t, int64(2000), cfg.Completion.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.Completion.Timeout())
	assert.Equal(t, 3, cfg.Extract.MaxAttempts)
	assert.Equal(t, 2000, cfg.Extract.InitialBackoffMs)
	assert.Equal(t, 30000, cfg.Extract.MaxBackoffMs)
	assert.InDelta(t, 2.0, cfg.Extract.Multiplier, 0.001)
	assert.Equal(t, "strict", cfg.Extract.SchemaPolicy)
	assert.Equal(t, 4, cfg.Run.Concurrency)
	assert.Equal(t, time.Duration(0), cfg.Run.Timeout())
	assert.Equal(t, "examples/sample_texts", cfg.Source.Dir)
	assert.Equal(t, "1MB", cfg.Source.MaxBytes)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Completion.Token)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/extract
completion:
  base_url: https://example.com/serving-endpoints
  model_version: llama-v2
log:
  level: debug
  format: console
run:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/extract", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://example.com/serving-endpoints", cfg.Completion.BaseURL)
	assert.Equal(t, "llama-v2", cfg.Completion.ModelVersion)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Run.Concurrency)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Extract.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("EXTRACT_STORE_DRIVER", "postgres")
	t.Setenv("EXTRACT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadTokenFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DATABRICKS_TOKEN", "dapi-legacy")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dapi-legacy", cfg.Completion.Token)

	t.Setenv("EXTRACT_COMPLETION_TOKEN", "dapi-new")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "dapi-new", cfg.Completion.Token)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.Unsetenv("EXTRACT_RUN_CONCURRENCY"))
	t.Cleanup(func() { os.Unsetenv("EXTRACT_RUN_CONCURRENCY") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EXTRACT_RUN_CONCURRENCY=6\n"), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Run.Concurrency)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("EXTRACT_RUN_CONCURRENCY", "64")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Concurrency")
}

func TestCompletionStringOmitsToken(t *testing.T) {
	c := CompletionConfig{BaseURL: "https://example.com", Model: "m", Token: "dapi-secret"}
	assert.NotContains(t, c.String(), "dapi-secret")
	assert.Contains(t, c.String(), "token=set")
	assert.Contains(t, CompletionConfig{}.String(), "token=unset")
}

func TestSourceMaxBytesValue(t *testing.T) {
	n, err := SourceConfig{MaxBytes: "1MB"}.MaxBytesValue()
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), n)

	n, err = SourceConfig{MaxBytes: "512KiB"}.MaxBytesValue()
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024), n)

	_, err = SourceConfig{MaxBytes: "lots"}.MaxBytesValue()
	assert.Error(t, err)

	_, err = SourceConfig{MaxBytes: "0"}.MaxBytesValue()
	assert.Error(t, err)
}

func TestExtractBackoff(t *testing.T) {
	b := ExtractConfig{InitialBackoffMs: 2000, MaxBackoffMs: 30000, Multiplier: 2}.Backoff()
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
}

func TestCompletionBreaker(t *testing.T) {
	b := CompletionConfig{BreakerThreshold: 3, BreakerResetSecs: 10}.Breaker()
	assert.Equal(t, 3, b.FailureThreshold)
	assert.Equal(t, 10*time.Second, b.ResetTimeout)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "extractions.db"
	cfg.Completion.Model = "databricks-meta-llama-3-3-70b-instruct"
	cfg.Completion.MaxTokens = 2000
	cfg.Completion.TimeoutSecs = 60
	cfg.Extract.MaxAttempts = 3
	cfg.Extract.Multiplier = 2
	cfg.Run.Concurrency = 4
	cfg.Source.MaxBytes = "1MB"
	cfg.Server.Port = 8080
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Completion.BaseURL = "https://example.com/serving-endpoints"
	cfg.Completion.Token = "dapi-token"

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_MissingCompletion(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completion.base_url is required")
	assert.Contains(t, err.Error(), "completion.token is required")
}

func TestValidateServe_NoCompletionNeeded(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("read"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Port")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Run.Concurrency = 0
	assert.Error(t, cfg.Validate("read"))
	cfg.Run.Concurrency = 33
	assert.Error(t, cfg.Validate("read"))
	cfg.Run.Concurrency = 32
	assert.NoError(t, cfg.Validate("read"))

	cfg.Extract.MaxAttempts = 0
	assert.Error(t, cfg.Validate("read"))
	cfg.Extract.MaxAttempts = 3

	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("read"))
	cfg.Store.Driver = "postgres"

	cfg.Source.MaxBytes = "nope"
	assert.Error(t, cfg.Validate("read"))
}
