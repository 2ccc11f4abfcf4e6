// Package config handles configuration loading for taskmill. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/taskmill/taskmill/internal/resilience"
)

// Config holds all configuration for taskmill.
type Config struct {
	Run       RunConfig       `mapstructure:"run"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Cache     CacheConfig     `mapstructure:"cache"`
	State     StateConfig     `mapstructure:"state"`
}

// RunConfig holds execution settings.
type RunConfig struct {
	// Workers is the maximum number of tasks in flight.
	Workers int `mapstructure:"workers"`
	// TaskTimeout bounds one task's work call including retries.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// Watch enables source-file watching during a run.
	Watch bool `mapstructure:"watch"`
}

// LimitsConfig holds rate limiter, circuit breaker, and retry settings.
type LimitsConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	TokensPerMinute   int           `mapstructure:"tokens_per_minute"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	RecoveryTimeout   time.Duration `mapstructure:"recovery_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	// Dir overrides the cache database location. Empty means the XDG data
	// directory.
	Dir string `mapstructure:"dir"`
	// MaxAge is the staleness cutoff for cached entries. Zero disables
	// age-based staleness.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// StateConfig holds run history settings.
type StateConfig struct {
	// Dir overrides the history database location. Empty means the XDG
	// data directory.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (TASKMILL_*)
//  2. Project config (.taskmill.yaml in current directory or a parent)
//  3. User config (~/.config/taskmill/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the executor or guard cannot run with.
func (c *Config) Validate() error {
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be positive, got %d", c.Run.Workers)
	}
	if c.Limits.RequestsPerMinute < 0 {
		return fmt.Errorf("limits.requests_per_minute must not be negative, got %d", c.Limits.RequestsPerMinute)
	}
	if c.Limits.TokensPerMinute < 0 {
		return fmt.Errorf("limits.tokens_per_minute must not be negative, got %d", c.Limits.TokensPerMinute)
	}
	if c.Limits.MaxAttempts <= 0 {
		return fmt.Errorf("limits.max_attempts must be positive, got %d", c.Limits.MaxAttempts)
	}
	return nil
}

// GuardConfig maps the limits section onto the resilience guard.
func (c *Config) GuardConfig() resilience.GuardConfig {
	retry := resilience.DefaultRetrier()
	retry.MaxAttempts = c.Limits.MaxAttempts
	return resilience.GuardConfig{
		Timeout:           c.Run.TaskTimeout,
		RequestsPerMinute: c.Limits.RequestsPerMinute,
		TokensPerMinute:   c.Limits.TokensPerMinute,
		FailureThreshold:  c.Limits.FailureThreshold,
		RecoveryTimeout:   c.Limits.RecoveryTimeout,
		Retry:             retry,
	}
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.task_timeout", "120s")
	v.SetDefault("run.watch", false)

	v.SetDefault("limits.requests_per_minute", 50)
	v.SetDefault("limits.tokens_per_minute", 100000)
	v.SetDefault("limits.failure_threshold", 5)
	v.SetDefault("limits.recovery_timeout", "30s")
	v.SetDefault("limits.max_attempts", 3)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.max_age", "168h")

	v.SetDefault("state.dir", "")
}

// bindEnv maps environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.BindEnv("run.workers", "TASKMILL_WORKERS")
	v.BindEnv("run.task_timeout", "TASKMILL_TASK_TIMEOUT")
	v.BindEnv("run.watch", "TASKMILL_WATCH")
	v.BindEnv("limits.requests_per_minute", "TASKMILL_RPM")
	v.BindEnv("limits.tokens_per_minute", "TASKMILL_TPM")
	v.BindEnv("anthropic.api_key", "TASKMILL_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.model", "TASKMILL_MODEL")
	v.BindEnv("anthropic.use_bedrock", "TASKMILL_USE_BEDROCK")
	v.BindEnv("cache.dir", "TASKMILL_CACHE_DIR")
	v.BindEnv("state.dir", "TASKMILL_STATE_DIR")
}

// getUserConfigDir returns the XDG config directory for taskmill.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskmill")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskmill")
	}
	return filepath.Join(home, ".config", "taskmill")
}

// findProjectConfig searches for .taskmill.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".taskmill.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Workers:     4,
			TaskTimeout: 120 * time.Second,
		},
		Limits: LimitsConfig{
			RequestsPerMinute: 50,
			TokensPerMinute:   100000,
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			MaxAttempts:       3,
		},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5",
		},
		Cache: CacheConfig{
			MaxAge: 7 * 24 * time.Hour,
		},
	}
}
