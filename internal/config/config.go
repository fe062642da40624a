package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/extract-cli/internal/resilience"
)

// EnvPrefix prefixes every environment override, e.g. EXTRACT_STORE_DRIVER.
const EnvPrefix = "EXTRACT"

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
}

// CompletionConfig configures the chat-completions endpoint.
type CompletionConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Token            string  `yaml:"token" mapstructure:"token"`
	Model            string  `yaml:"model" mapstructure:"model"`
	ModelVersion     string  `yaml:"model_version" mapstructure:"model_version"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=1"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec" validate:"gte=0"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold" validate:"gte=0"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs" validate:"gte=0"`
}

// Timeout returns the per-call timeout.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// String omits the token.
func (c CompletionConfig) String() string {
	token := "unset"
	if c.Token != "" {
		token = "set"
	}
	return "completion{base_url=" + c.BaseURL + " model=" + c.Model + " token=" + token + "}"
}

// Breaker returns the circuit breaker settings.
func (c CompletionConfig) Breaker() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(c.BreakerThreshold, c.BreakerResetSecs)
}

// ExtractConfig configures the per-document retry loop.
type ExtractConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=10"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
	SchemaPolicy     string  `yaml:"schema_policy" mapstructure:"schema_policy"`
	SchemasFile      string  `yaml:"schemas_file" mapstructure:"schemas_file"`
}

// Backoff returns the retry delay policy.
func (c ExtractConfig) Backoff() resilience.Backoff {
	return resilience.FromBackoffConfig(c.InitialBackoffMs, c.MaxBackoffMs, c.Multiplier, c.JitterFraction)
}

// RunConfig configures batch runs.
type RunConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1,max=32"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
}

// Timeout returns the run timeout; zero means none.
func (c RunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SourceConfig configures where documents are read from.
type SourceConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	MaxBytes string `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// MaxBytesValue parses MaxBytes ("1MB", "512KiB").
func (c SourceConfig) MaxBytesValue() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxBytes)
	if err != nil {
		return 0, eris.Wrapf(err, "config: parse source.max_bytes %q", c.MaxBytes)
	}
	if n == 0 || n > 1<<40 {
		return 0, eris.Errorf("config: source.max_bytes %q out of range", c.MaxBytes)
	}
	return int64(n), nil
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

var validate = validator.New()

// Load reads configuration from .env, config.yaml and the environment, in
// increasing order of precedence, and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("completion.token", EnvPrefix+"_COMPLETION_TOKEN", "DATABRICKS_TOKEN"); err != nil {
		return nil, eris.Wrap(err, "config: bind token env")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "extractions.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("completion.base_url", "")
	v.SetDefault("completion.model", "databricks-meta-llama-3-3-70b-instruct")
	v.SetDefault("completion.model_version", "")
	v.SetDefault("completion.max_tokens", 2000)
	v.SetDefault("completion.temperature", 0.0)
	v.SetDefault("completion.timeout_secs", 60)
	v.SetDefault("completion.rate_per_sec", 0.0)
	v.SetDefault("completion.breaker_threshold", 5)
	v.SetDefault("completion.breaker_reset_secs", 30)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.initial_backoff_ms", 2000)
	v.SetDefault("extract.max_backoff_ms", 30000)
	v.SetDefault("extract.multiplier", 2.0)
	v.SetDefault("extract.jitter_fraction", 0.0)
	v.SetDefault("extract.schema_policy", "strict")
	v.SetDefault("extract.schemas_file", "")
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.timeout_secs", 0)
	v.SetDefault("source.dir", "examples/sample_texts")
	v.SetDefault("source.manifest", "")
	v.SetDefault("source.max_bytes", "1MB")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.Completion.ModelVersion == "" {
		cfg.Completion.ModelVersion = cfg.Completion.Model
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: invalid")
	}
	return &cfg, nil
}

// Validate checks field constraints, then the settings the given mode
// needs: "run" talks to the completion endpoint, "serve" binds a port and
// "read" only opens the store.
func (c *Config) Validate(mode string) error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	if _, err := c.Source.MaxBytesValue(); err != nil {
		return err
	}

	var errs []string
	switch mode {
	case "run":
		if c.Completion.BaseURL == "" {
			errs = append(errs, "completion.base_url is required")
		}
		if c.Completion.Token == "" {
			errs = append(errs, "completion.token is required (set EXTRACT_COMPLETION_TOKEN or DATABRICKS_TOKEN)")
		}
		if c.Completion.Model == "" {
			errs = append(errs, "completion.model is required")
		}
	case "serve", "read":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)
	zapCfg.OutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
