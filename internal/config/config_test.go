package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultStreamName, cfg.Telemetry.StreamName)
	assert.Equal(t, defaultMaxIterations, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, "anthropic", cfg.Provider.Default)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
provider:
  default: openai
tool_backend:
  enabled_toolkits: ["gmail", "slack"]
orchestrator:
  max_iterations: 10
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Default)
	assert.Equal(t, []string{"gmail", "slack"}, cfg.ToolBackend.EnabledToolkits)
	assert.Equal(t, 10, cfg.Orchestrator.MaxIterations)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("SKIP_CLI_AUTH", "1")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Provider.AnthropicKey)
	assert.True(t, cfg.ToolBackend.SkipCLIAuth)
	assert.True(t, cfg.Telemetry.PublishToRedis)
	assert.Equal(t, "redis://localhost:6379", cfg.Telemetry.RedisURL)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
