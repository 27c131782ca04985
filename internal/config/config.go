// Package config defines the task agent's configuration surface: a single
// YAML-tagged Config struct with one sub-struct per concern, matching the
// teacher's nested-per-concern configuration layout, plus the environment
// variable overrides the original Python implementation read directly via
// os.getenv.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the task agent's top-level configuration, covering every
// option CORE SPEC §6 "Configuration (recognized options)" names.
type Config struct {
	Provider     ProviderConfig     `yaml:"provider"`
	ToolBackend  ToolBackendConfig  `yaml:"tool_backend"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ProviderConfig selects and credentials the model provider dialect.
type ProviderConfig struct {
	// AnthropicKey, if non-empty, makes the anthropic dialect available.
	AnthropicKey string `yaml:"anthropic_key"`
	// OpenAIKey, if non-empty, makes the openai dialect available.
	OpenAIKey string `yaml:"openai_key"`
	// Default selects which dialect a task uses when its request doesn't
	// specify one: "anthropic" or "openai".
	Default string `yaml:"default"`
}

// ToolBackendConfig configures the capability backend.
type ToolBackendConfig struct {
	// Key authenticates this deployment to the capability backend;
	// required for any tool execution.
	Key string `yaml:"tool_backend_key"`
	// EnabledToolkits restricts the catalog Planner.Initial fetches;
	// empty means all known toolkits.
	EnabledToolkits []string `yaml:"enabled_toolkits"`
	// SkipCLIAuth, if set, means authorization never blocks: an
	// unfinished authorization becomes a tool error instead.
	SkipCLIAuth bool `yaml:"skip_cli_auth"`
}

// TelemetryConfig configures the optional telemetry stream.
type TelemetryConfig struct {
	// PublishToRedis enables the Redis-stream sink.
	PublishToRedis bool `yaml:"publish_to_redis"`
	// StreamName is the Redis stream events are XAdd'd to.
	StreamName string `yaml:"stream_name"`
	// RedisURL is the connection string for the stream's Redis client.
	RedisURL string `yaml:"redis_url"`
}

// OrchestratorConfig bounds the outer loop.
type OrchestratorConfig struct {
	// MaxIterations caps the replanning loop; CORE SPEC §4.5 default is 25.
	MaxIterations int `yaml:"max_iterations"`
}

const defaultStreamName = "plan_execution"
const defaultMaxIterations = 25

// Load reads path as YAML into a Config, applies defaults, then applies
// environment variable overrides — the same order the original system's
// os.getenv fallbacks ran in relative to its config file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Telemetry.StreamName == "" {
		cfg.Telemetry.StreamName = defaultStreamName
	}
	if cfg.Orchestrator.MaxIterations <= 0 {
		cfg.Orchestrator.MaxIterations = defaultMaxIterations
	}
	if cfg.Provider.Default == "" {
		cfg.Provider.Default = "anthropic"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Provider.AnthropicKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Provider.OpenAIKey = v
	}
	if v := os.Getenv("ARCADE_API_KEY"); v != "" {
		cfg.ToolBackend.Key = v
	}
	if v := os.Getenv("SKIP_CLI_AUTH"); v != "" {
		cfg.ToolBackend.SkipCLIAuth = true
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Telemetry.RedisURL = v
		cfg.Telemetry.PublishToRedis = true
	}
	if v := os.Getenv("STREAM_NAME"); v != "" {
		cfg.Telemetry.StreamName = v
	}
	if v := os.Getenv("MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.MaxIterations = n
		}
	}
}
