// Package main provides the CLI entry point for the plan-execute-replan
// task agent.
//
// # Basic Usage
//
// Run a task to completion:
//
//	mcp-assistant run "summarize the open pull requests" --provider anthropic --user-id u1
//
// # Environment Variables
//
// Configuration can be provided via environment variables, applied after
// any --config YAML file is loaded:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - ARCADE_API_KEY: capability backend key
//   - SKIP_CLI_AUTH: disable blocking on pending tool authorization
//   - REDIS_URL: enables the telemetry Redis-stream sink
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/AIAtrium/mcp-assistant/internal/capability"
	"github.com/AIAtrium/mcp-assistant/internal/config"
	"github.com/AIAtrium/mcp-assistant/internal/dispatch"
	"github.com/AIAtrium/mcp-assistant/internal/executor"
	"github.com/AIAtrium/mcp-assistant/internal/observability"
	"github.com/AIAtrium/mcp-assistant/internal/orchestrator"
	"github.com/AIAtrium/mcp-assistant/internal/planner"
	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
	"github.com/AIAtrium/mcp-assistant/internal/taskerr"
	"github.com/AIAtrium/mcp-assistant/internal/telemetry"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

// buildRootCmd creates the root command with the "run" subcommand attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mcp-assistant",
		Short:        "Plan-execute-replan task agent",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var (
		configPath   string
		providerFlag string
		userID       string
		taskID       string
	)

	cmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Run a task to completion via plan-execute-replan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), cmd, args[0], configPath, providerFlag, userID, taskID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&providerFlag, "provider", "", "Model provider dialect: anthropic or openai (default from config)")
	cmd.Flags().StringVar(&userID, "user-id", "", "User ID the task runs on behalf of")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID; generated if omitted")

	return cmd
}

func runTask(ctx context.Context, cmd *cobra.Command, objective, configPath, providerFlag, userID, taskID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return taskerr.NewConfigurationError("config", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Format: "json"})
	metrics := observability.NewMetrics()

	if userID == "" {
		userID = "cli-user"
	}
	if taskID == "" {
		taskID = uuid.NewString()
	}
	sessionID := uuid.NewString()

	ctx = observability.AddTaskID(ctx, taskID)
	ctx = observability.AddSessionID(ctx, sessionID)
	ctx = observability.AddUserID(ctx, userID)

	if cfg.ToolBackend.Key == "" && !cfg.ToolBackend.SkipCLIAuth {
		logger.Warn(ctx, "tool backend key not configured", "error", taskerr.ErrMissingToolBackendKey)
	}

	providerName := providerFlag
	if providerName == "" {
		providerName = cfg.Provider.Default
	}

	adapter, err := buildAdapter(providerName, cfg, logger)
	if err != nil {
		return taskerr.NewConfigurationError("provider", err)
	}

	backend := capability.NewFakeBackend(nil)
	dispatcher := dispatch.New(backend, cfg.ToolBackend.SkipCLIAuth, dispatch.WithLogger(logger))
	exec := executor.New(adapter, dispatcher, executor.WithLogger(logger))
	plan := planner.New(adapter, backend, planner.WithLogger(logger))

	sink, closeSink, err := buildTelemetrySink(cfg, logger)
	if err != nil {
		return taskerr.NewConfigurationError("telemetry", err)
	}
	if closeSink != nil {
		defer closeSink()
	}

	orch := orchestrator.New(adapter, plan, exec,
		orchestrator.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		orchestrator.WithTelemetry(sink),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogger(logger),
	)

	var providerValue state.Provider
	switch providerName {
	case "openai":
		providerValue = state.ProviderOpenAI
	default:
		providerValue = state.ProviderAnthropic
	}

	st, err := orch.Run(ctx, objective, providerValue, userID, taskID, sessionID)
	if err != nil {
		if taskerr.IsProviderError(err) {
			logger.Error(ctx, "task failed with a provider error", "error", err, "retryable", taskerr.IsRetryable(err))
		}
		return err
	}

	logger.Info(ctx, "task finished", "task_id", taskID, "status", string(st.Status))
	fmt.Fprintln(cmd.OutOrStdout(), st.Response)
	return nil
}

func buildAdapter(providerName string, cfg *config.Config, logger *observability.Logger) (providers.Adapter, error) {
	switch providerName {
	case "openai":
		if cfg.Provider.OpenAIKey == "" {
			return nil, taskerr.ErrMissingCredentials
		}
		return providers.NewOpenAIAdapter(providers.OpenAIConfig{
			APIKey:     cfg.Provider.OpenAIKey,
			MaxRetries: 3,
			RetryDelay: time.Second,
			Logger:     logger,
		})
	case "anthropic", "":
		if cfg.Provider.AnthropicKey == "" {
			return nil, taskerr.ErrMissingCredentials
		}
		return providers.NewAnthropicAdapter(providers.AnthropicConfig{
			APIKey:     cfg.Provider.AnthropicKey,
			MaxRetries: 3,
			RetryDelay: time.Second,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("%q: %w", providerName, taskerr.ErrUnsupportedProvider)
	}
}

// buildTelemetrySink wires the Redis-stream sink when configured, otherwise
// a no-op sink. The returned closer, if non-nil, releases the Redis client.
func buildTelemetrySink(cfg *config.Config, logger *observability.Logger) (telemetry.Sink, func(), error) {
	if !cfg.Telemetry.PublishToRedis {
		return telemetry.NopSink{}, nil, nil
	}

	opts, err := redis.ParseURL(cfg.Telemetry.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	sink := telemetry.NewRedisSink(rdb, cfg.Telemetry.StreamName, func(err error) {
		logger.Warn(context.Background(), "telemetry publish failed", "error", err)
	})
	return sink, func() { _ = rdb.Close() }, nil
}

// exitCodeFor reports the process exit code for a command failure. Fatal
// errors (configuration, state violations) exit nonzero; the Orchestrator
// itself always returns nil on a task that merely completed with a failed
// status, so an error reaching here is always one of those two kinds or a
// wrapping of them.
func exitCodeFor(err error) int {
	if taskerr.IsFatal(err) {
		return 2
	}
	return 1
}
