// Package config loads sitescore settings from config.yaml and SITESCORE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Learner  LearnerConfig  `yaml:"learner" mapstructure:"learner"`
	Outcome  OutcomeConfig  `yaml:"outcome" mapstructure:"outcome"`
	Features FeaturesConfig `yaml:"features" mapstructure:"features"`
	Predict  PredictConfig  `yaml:"predict" mapstructure:"predict"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres, sqlite or memory
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScoringConfig configures the score-to-revenue curve and confidence normalisation.
type ScoringConfig struct {
	BaselineScore        float64 `yaml:"baseline_score" mapstructure:"baseline_score"`
	MinMultiplier        float64 `yaml:"min_multiplier" mapstructure:"min_multiplier"`
	MaxConsistencyStdDev float64 `yaml:"max_consistency_stddev" mapstructure:"max_consistency_stddev"`
}

// LearnerConfig configures concept retraining.
type LearnerConfig struct {
	MinOutcomesForTraining int `yaml:"min_outcomes_for_training" mapstructure:"min_outcomes_for_training"`
	MinOutcomesForWeights  int `yaml:"min_outcomes_for_weights" mapstructure:"min_outcomes_for_weights"`
	PageSize               int `yaml:"page_size" mapstructure:"page_size"`
}

// OutcomeConfig configures outcome recording.
type OutcomeConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoffMs   int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	ImportConcurrent int `yaml:"import_concurrent" mapstructure:"import_concurrent"`
}

// FeaturesConfig configures the feature snapshot providers. A local grid
// shapefile is consulted before the remote service.
type FeaturesConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	GridPath    string  `yaml:"grid_path" mapstructure:"grid_path"`
	GridSource  string  `yaml:"grid_source" mapstructure:"grid_source"`
}

// PredictConfig configures batch scoring.
type PredictConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// defaults apply to every key a config file or environment leaves unset.
var defaults = map[string]any{
	"store.driver":                      "postgres",
	"store.max_conns":                   10,
	"store.min_conns":                   2,
	"scoring.baseline_score":            70.0,
	"scoring.min_multiplier":            0.5,
	"scoring.max_consistency_stddev":    50.0,
	"learner.min_outcomes_for_training": 5,
	"learner.min_outcomes_for_weights":  20,
	"learner.page_size":                 1000,
	"outcome.max_attempts":              3,
	"outcome.retry_backoff_ms":          25,
	"outcome.import_concurrent":         4,
	"features.rate_limit":               10.0,
	"features.timeout_secs":             20,
	"features.grid_path":                "",
	"features.grid_source":              "population grid",
	"predict.max_concurrent":            8,
	"server.port":                       8080,
	"server.allowed_origins":            []string{"*"},
	"log.level":                         "info",
	"log.format":                        "json",
}

// Load reads ./config.yaml when present, then SITESCORE_* environment
// variables, which win over the file (SITESCORE_STORE_DRIVER sets
// store.driver).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("SITESCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, eris.Wrap(err, "config: read file")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// Validate checks the settings a command needs. mode is "store" for
// commands that only touch the database, "predict" for scoring commands and
// "serve" for the HTTP server.
func (c *Config) Validate(mode string) error {
	if mode != "store" && mode != "predict" && mode != "serve" {
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string
	require := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
		require(c.Store.DatabaseURL != "", "store.database_url is required for %s", c.Store.Driver)
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	require(c.Learner.MinOutcomesForTraining >= 1, "learner.min_outcomes_for_training must be >= 1")
	require(c.Learner.MinOutcomesForWeights >= c.Learner.MinOutcomesForTraining,
		"learner.min_outcomes_for_weights must be >= min_outcomes_for_training")
	require(c.Outcome.MaxAttempts >= 1 && c.Outcome.MaxAttempts <= 10, "outcome.max_attempts must be between 1 and 10")

	if mode != "store" {
		require(c.Scoring.BaselineScore > 0 && c.Scoring.BaselineScore <= 100, "scoring.baseline_score must be in (0, 100]")
		require(c.Scoring.MinMultiplier >= 0 && c.Scoring.MinMultiplier < 1, "scoring.min_multiplier must be in [0, 1)")
		require(c.Scoring.MaxConsistencyStdDev > 0, "scoring.max_consistency_stddev must be > 0")
		require(c.Predict.MaxConcurrent >= 1 && c.Predict.MaxConcurrent <= 64, "predict.max_concurrent must be between 1 and 64")
	}
	if mode == "serve" {
		require(c.Server.Port > 0, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger replaces the global zap logger. Format "console" gives
// human-readable development output; anything else logs JSON.
func InitLogger(cfg LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
