// Package config loads engine configuration from planwright.yml, environment
// variables, and built-in defaults, in increasing order of precedence for the
// environment. Secrets (the Anthropic API key, the operator JWT secret) are
// read from the environment only and never written to config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/planwright/planwright/internal/types"
)

// Config is the full engine configuration
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	AI       AIConfig       `mapstructure:"ai"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Server   ServerConfig   `mapstructure:"server"`
	Instance InstanceConfig `mapstructure:"instance"`
}

// StorageConfig locates the SQLite database
type StorageConfig struct {
	// Path is the database file path. ":memory:" runs fully in-memory.
	// Default: planwright.db
	Path string `mapstructure:"path"`
}

// AIConfig controls the generation client
type AIConfig struct {
	// Model is the Anthropic model ID. Empty selects the default model,
	// which PLANWRIGHT_MODEL can override.
	Model string `mapstructure:"model"`

	// MaxTokens caps each generation response
	// Default: 8192, Range: 256-64000
	MaxTokens int64 `mapstructure:"max_tokens"`

	// MaxRetries is the retry budget per generation call
	// Default: 3, Range: 0-10
	MaxRetries int `mapstructure:"max_retries"`

	// TimeoutSeconds bounds a single generation attempt
	// Default: 60, Range: 5-600
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// RequestsPerMinute rate-limits outbound API calls
	// Default: 30, Range: 1-600
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// MaxConcurrentCalls caps in-flight API calls across all runs
	// Default: 3, Range: 1-32
	MaxConcurrentCalls int `mapstructure:"max_concurrent_calls"`
}

// PipelineConfig controls phase gating and self-revision
type PipelineConfig struct {
	// DefaultThreshold is the quality gate applied to phases with no
	// explicit entry in Thresholds
	// Default: 70, Range: 0-100
	DefaultThreshold int `mapstructure:"default_threshold"`

	// Thresholds maps phase name to a per-phase quality gate
	Thresholds map[string]int `mapstructure:"thresholds"`

	// MaxSelfIterations is how many times a phase auto-regenerates on a
	// failing score before stopping for operator review
	// Default: 2, Range: 1-10
	MaxSelfIterations int `mapstructure:"max_self_iterations"`

	// MaxGenAttempts is the transport-failure budget per iteration
	// Default: 3, Range: 1-10
	MaxGenAttempts int `mapstructure:"max_gen_attempts"`
}

// ServerConfig controls the HTTP governance surface
type ServerConfig struct {
	// Addr is the listen address
	// Default: :8080
	Addr string `mapstructure:"addr"`

	// JWTSecret signs operator tokens. Set PLANWRIGHT_SERVER_JWT_SECRET;
	// the server refuses to start without it.
	JWTSecret string `mapstructure:"jwt_secret"`

	// TokenTTLMinutes is the lifetime of minted operator tokens
	// Default: 480 (one shift), Range: 5-10080
	TokenTTLMinutes int `mapstructure:"token_ttl_minutes"`
}

// InstanceConfig controls engine instance heartbeats and stale cleanup
type InstanceConfig struct {
	// HeartbeatSeconds is the heartbeat interval
	// Default: 30, Range: 5-3600
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`

	// StaleAfterSeconds is how long a silent instance survives before
	// cleanup removes it. Must be at least twice HeartbeatSeconds.
	// Default: 300
	StaleAfterSeconds int `mapstructure:"stale_after_seconds"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: "planwright.db"},
		AI: AIConfig{
			MaxTokens:          8192,
			MaxRetries:         3,
			TimeoutSeconds:     60,
			RequestsPerMinute:  30,
			MaxConcurrentCalls: 3,
		},
		Pipeline: PipelineConfig{
			DefaultThreshold:  70,
			MaxSelfIterations: 2,
			MaxGenAttempts:    3,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			TokenTTLMinutes: 480,
		},
		Instance: InstanceConfig{
			HeartbeatSeconds:  30,
			StaleAfterSeconds: 300,
		},
	}
}

// Load reads configuration from the given file path, falling back to a
// planwright.yml in the working directory. A missing implicit file is fine;
// a missing explicit path is an error. PLANWRIGHT_* environment variables
// override file values (PLANWRIGHT_PIPELINE_DEFAULT_THRESHOLD and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("ai.model", def.AI.Model)
	v.SetDefault("ai.max_tokens", def.AI.MaxTokens)
	v.SetDefault("ai.max_retries", def.AI.MaxRetries)
	v.SetDefault("ai.timeout_seconds", def.AI.TimeoutSeconds)
	v.SetDefault("ai.requests_per_minute", def.AI.RequestsPerMinute)
	v.SetDefault("ai.max_concurrent_calls", def.AI.MaxConcurrentCalls)
	v.SetDefault("pipeline.default_threshold", def.Pipeline.DefaultThreshold)
	v.SetDefault("pipeline.max_self_iterations", def.Pipeline.MaxSelfIterations)
	v.SetDefault("pipeline.max_gen_attempts", def.Pipeline.MaxGenAttempts)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.token_ttl_minutes", def.Server.TokenTTLMinutes)
	v.SetDefault("instance.heartbeat_seconds", def.Instance.HeartbeatSeconds)
	v.SetDefault("instance.stale_after_seconds", def.Instance.StaleAfterSeconds)

	v.SetEnvPrefix("PLANWRIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("planwright")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every value sits in its documented range
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.AI.MaxTokens < 256 || c.AI.MaxTokens > 64000 {
		return fmt.Errorf("ai.max_tokens must be between 256 and 64000 (got %d)", c.AI.MaxTokens)
	}
	if c.AI.MaxRetries < 0 || c.AI.MaxRetries > 10 {
		return fmt.Errorf("ai.max_retries must be between 0 and 10 (got %d)", c.AI.MaxRetries)
	}
	if c.AI.TimeoutSeconds < 5 || c.AI.TimeoutSeconds > 600 {
		return fmt.Errorf("ai.timeout_seconds must be between 5 and 600 (got %d)", c.AI.TimeoutSeconds)
	}
	if c.AI.RequestsPerMinute < 1 || c.AI.RequestsPerMinute > 600 {
		return fmt.Errorf("ai.requests_per_minute must be between 1 and 600 (got %d)", c.AI.RequestsPerMinute)
	}
	if c.AI.MaxConcurrentCalls < 1 || c.AI.MaxConcurrentCalls > 32 {
		return fmt.Errorf("ai.max_concurrent_calls must be between 1 and 32 (got %d)", c.AI.MaxConcurrentCalls)
	}
	if c.Pipeline.DefaultThreshold < 0 || c.Pipeline.DefaultThreshold > 100 {
		return fmt.Errorf("pipeline.default_threshold must be between 0 and 100 (got %d)", c.Pipeline.DefaultThreshold)
	}
	for name, threshold := range c.Pipeline.Thresholds {
		if !types.Phase(name).IsValid() {
			return fmt.Errorf("pipeline.thresholds names unknown phase %q", name)
		}
		if threshold < 0 || threshold > 100 {
			return fmt.Errorf("pipeline.thresholds.%s must be between 0 and 100 (got %d)", name, threshold)
		}
	}
	if c.Pipeline.MaxSelfIterations < 1 || c.Pipeline.MaxSelfIterations > 10 {
		return fmt.Errorf("pipeline.max_self_iterations must be between 1 and 10 (got %d)", c.Pipeline.MaxSelfIterations)
	}
	if c.Pipeline.MaxGenAttempts < 1 || c.Pipeline.MaxGenAttempts > 10 {
		return fmt.Errorf("pipeline.max_gen_attempts must be between 1 and 10 (got %d)", c.Pipeline.MaxGenAttempts)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.TokenTTLMinutes < 5 || c.Server.TokenTTLMinutes > 10080 {
		return fmt.Errorf("server.token_ttl_minutes must be between 5 and 10080 (got %d)", c.Server.TokenTTLMinutes)
	}
	if c.Instance.HeartbeatSeconds < 5 || c.Instance.HeartbeatSeconds > 3600 {
		return fmt.Errorf("instance.heartbeat_seconds must be between 5 and 3600 (got %d)", c.Instance.HeartbeatSeconds)
	}
	if c.Instance.StaleAfterSeconds < 2*c.Instance.HeartbeatSeconds {
		return fmt.Errorf("instance.stale_after_seconds must be at least twice instance.heartbeat_seconds (got %d, heartbeat %d)",
			c.Instance.StaleAfterSeconds, c.Instance.HeartbeatSeconds)
	}
	return nil
}

// PhaseThresholds converts the string-keyed threshold map to phase keys
func (c *Config) PhaseThresholds() map[types.Phase]int {
	out := make(map[types.Phase]int, len(c.Pipeline.Thresholds))
	for name, threshold := range c.Pipeline.Thresholds {
		out[types.Phase(name)] = threshold
	}
	return out
}

// TokenTTL returns the operator token lifetime as a duration
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Server.TokenTTLMinutes) * time.Minute
}

// Heartbeat returns the instance heartbeat interval as a duration
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Instance.HeartbeatSeconds) * time.Second
}

// StaleAfter returns the instance staleness cutoff as a duration
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Instance.StaleAfterSeconds) * time.Second
}
