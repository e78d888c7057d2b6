// Package config provides configuration management for the decisioning engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"loanai/internal/deliberation"
	apperrors "loanai/internal/errors"
	"loanai/internal/logging"
	"loanai/internal/policy"
	"loanai/internal/resilience"
	"loanai/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Decisioning  DecisioningConfig  `mapstructure:"decisioning"`
	Deliberation DeliberationConfig `mapstructure:"deliberation"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Store        StoreConfig        `mapstructure:"store"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Credentials  Credentials        `mapstructure:"-" json:"-"` // Loaded separately

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
	// CreatedTemplates lists files written because they were missing.
	CreatedTemplates []string `mapstructure:"-"`
}

// DecisioningConfig holds orchestration and policy settings.
type DecisioningConfig struct {
	Policy        string        `mapstructure:"policy"` // conservative, balanced, aggressive
	BranchTimeout time.Duration `mapstructure:"branch_timeout"`
	MaxRounds     int           `mapstructure:"max_rounds"`
	EarlyExit     string        `mapstructure:"early_exit"` // never, unanimous
	RedFlagLimit  int           `mapstructure:"red_flag_limit"`
}

// DeliberationConfig holds deliberation settings.
type DeliberationConfig struct {
	Topic string `mapstructure:"topic"`
}

// ProvidersConfig holds analysis provider settings.
type ProvidersConfig struct {
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// LLMConfig holds chat model settings.
type LLMConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/loanai"
	}
	return filepath.Join(home, ".config", "loanai")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	created, err := loadConfigFile(configDir, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if created != "" {
		cfg.CreatedTemplates = append(cfg.CreatedTemplates, created)
	}

	created, err = loadCredentials(configDir, &cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}
	if created != "" {
		cfg.CreatedTemplates = append(cfg.CreatedTemplates, created)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("decisioning.policy", policy.NameBalanced)
	v.SetDefault("decisioning.branch_timeout", "30s")
	v.SetDefault("decisioning.max_rounds", deliberation.DefaultMaxRounds)
	v.SetDefault("decisioning.early_exit", "never")
	v.SetDefault("decisioning.red_flag_limit", policy.DefaultRedFlagLimit)

	v.SetDefault("deliberation.topic", "Application Risk Assessment and Approval Recommendation")

	v.SetDefault("providers.retry_attempts", 2)
	v.SetDefault("providers.retry_initial_delay", "500ms")
	v.SetDefault("providers.breaker_threshold", 5)
	v.SetDefault("providers.breaker_cooldown", "1m")

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)

	v.SetDefault("store.path", filepath.Join(configDir, "loanai.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "loanai.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
}

func loadConfigFile(configDir string, cfg *Config) (string, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	var created string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return "", err
		}
		path, err := createTemplate(configDir, "config.toml", configTemplate, 0644)
		if err != nil {
			return "", err
		}
		created = path
	}

	return created, v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) (string, error) {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	var created string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return "", err
		}
		// Use restricted permissions for credentials file
		path, err := createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
		if err != nil {
			return "", err
		}
		created = path
	}

	return created, v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("LOANAI_POLICY"); v != "" {
		cfg.Decisioning.Policy = v
	}
	if v := os.Getenv("LOANAI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := policy.Lookup(c.Decisioning.Policy); err != nil {
		return err
	}
	if c.Decisioning.BranchTimeout <= 0 {
		return fmt.Errorf("%w: branch_timeout must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Decisioning.MaxRounds < 1 || c.Decisioning.MaxRounds > 10 {
		return fmt.Errorf("%w: max_rounds must be between 1 and 10, got %d", apperrors.ErrConfigInvalid, c.Decisioning.MaxRounds)
	}
	if _, ok := deliberation.PredicateByName(c.Decisioning.EarlyExit); !ok {
		return fmt.Errorf("%w: unknown early_exit %q (must be 'never' or 'unanimous')", apperrors.ErrConfigInvalid, c.Decisioning.EarlyExit)
	}
	if c.Decisioning.RedFlagLimit < 0 {
		return fmt.Errorf("%w: red_flag_limit must be non-negative", apperrors.ErrConfigInvalid)
	}
	if c.Providers.RetryAttempts < 1 {
		return fmt.Errorf("%w: retry_attempts must be at least 1", apperrors.ErrConfigInvalid)
	}
	if c.Providers.BreakerThreshold < 0 {
		return fmt.Errorf("%w: breaker_threshold must be non-negative", apperrors.ErrConfigInvalid)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm temperature must be between 0 and 2", apperrors.ErrConfigInvalid)
	}
	return nil
}

// PolicyParams returns the selected policy table with the configured
// red-flag limit applied.
func (c *Config) PolicyParams() (policy.Params, error) {
	return c.PolicyParamsFor(c.Decisioning.Policy)
}

// PolicyParamsFor returns the named policy table with the configured
// red-flag limit applied.
func (c *Config) PolicyParamsFor(name string) (policy.Params, error) {
	p, err := policy.Lookup(name)
	if err != nil {
		return policy.Params{}, err
	}
	if c.Decisioning.RedFlagLimit > 0 {
		p.RedFlagLimit = c.Decisioning.RedFlagLimit
	}
	return p, nil
}

// Predicate returns the configured early-exit predicate.
func (c *Config) Predicate() deliberation.ConvergencePredicate {
	p, ok := deliberation.PredicateByName(c.Decisioning.EarlyExit)
	if !ok {
		return deliberation.NeverConverge
	}
	return p
}

// RetryConfig returns the retry settings for analysis providers.
func (c *Config) RetryConfig() utils.RetryConfig {
	rc := utils.DefaultRetryConfig()
	rc.MaxAttempts = c.Providers.RetryAttempts
	if c.Providers.RetryInitialDelay > 0 {
		rc.InitialDelay = c.Providers.RetryInitialDelay
	}
	return rc
}

// BreakerConfig returns the circuit breaker settings for analysis providers.
// A zero threshold keeps the package default.
func (c *Config) BreakerConfig() resilience.BreakerConfig {
	bc := resilience.DefaultBreakerConfig()
	if c.Providers.BreakerThreshold > 0 {
		bc.FailureThreshold = c.Providers.BreakerThreshold
	}
	if c.Providers.BreakerCooldown > 0 {
		bc.Cooldown = c.Providers.BreakerCooldown
	}
	return bc
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}

// LLMAvailable reports whether model-backed agents can be used.
func (c *Config) LLMAvailable() bool {
	return c.LLM.Enabled && c.Credentials.OpenAI.APIKey != ""
}
