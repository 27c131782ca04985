// Package orchestrator implements the Orchestrator (CORE SPEC §4.5): the
// top-level loop that owns a task's State and drives Planner, Step
// Executor, Summarizer, and Categorizer in sequence under a bounded
// iteration count, publishing telemetry checkpoints along the way.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AIAtrium/mcp-assistant/internal/executor"
	"github.com/AIAtrium/mcp-assistant/internal/observability"
	"github.com/AIAtrium/mcp-assistant/internal/planner"
	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
	"github.com/AIAtrium/mcp-assistant/internal/taskerr"
	"github.com/AIAtrium/mcp-assistant/internal/telemetry"
)

const defaultMaxIterations = 25

const summarizeSystemPrompt = `You are a planning agent responsible for judging whether a just-completed step succeeded, and condensing its result.`

const categorizeSystemPrompt = `You are a planning agent responsible for judging whether an entire completed task achieved its objective.`

const toolCategorizeTaskResult = "categorize_task_result"

// Clock lets callers inject a fixed time source in tests; time.Now in
// production. The workflow never calls time.Now directly so that the same
// State's telemetry events remain reproducible in a replayed test.
type Clock func() time.Time

// Orchestrator wires together one Planner, one Step Executor, and the
// provider adapter the Summarizer/Categorizer use directly (they need no
// tools, so they bypass the Step Executor's tool-calling loop entirely).
type Orchestrator struct {
	adapter        providers.Adapter
	planner        *planner.Planner
	executor       *executor.Executor
	telemetry      telemetry.Sink
	metrics        *observability.Metrics
	logger         *observability.Logger
	maxIterations  int
	executorPrompt string
	clock          Clock
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithMaxIterations overrides the default iteration cap of 25.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithTelemetry attaches a telemetry sink; the default is telemetry.NopSink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(o *Orchestrator) { o.telemetry = sink }
}

// WithExecutorSystemPrompt overrides the Step Executor's system prompt.
func WithExecutorSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.executorPrompt = prompt }
}

// WithClock overrides the time source telemetry events are stamped with.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics attaches a Metrics collector; nil (the default) disables
// metrics recording entirely.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger attaches a logger; the default is silent.
func WithLogger(logger *observability.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New constructs an Orchestrator. adapter is shared by the Summarizer and
// Categorizer calls; p and e must be built against the same adapter (and,
// for e, the same capability backend) for a single task.
func New(adapter providers.Adapter, p *planner.Planner, e *executor.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:       adapter,
		planner:       p,
		executor:      e,
		telemetry:     telemetry.NopSink{},
		maxIterations: defaultMaxIterations,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes CORE SPEC §4.5's full algorithm for one task invocation and
// returns the State it produced, with Response and Status set.
func (o *Orchestrator) Run(ctx context.Context, input string, provider state.Provider, userID, taskID, sessionID string) (*state.State, error) {
	st := state.New(input, provider, userID, taskID, sessionID)

	if o.logger != nil {
		o.logger.Info(ctx, "task started", "task_id", taskID, "user_id", userID, "provider", string(provider))
	}

	plan, err := o.planner.Initial(ctx, st)
	if err != nil {
		return nil, err
	}
	st.InitialPlan = plan
	st.CurrentPlan = append(state.Plan{}, plan...)

	o.telemetry.Publish(ctx, telemetry.NewEvent(telemetry.EventInitialPlan, st, o.clock()))

	if err := o.runUntilCompletion(ctx, st); err != nil {
		return nil, err
	}

	status, err := o.categorize(ctx, st)
	if err != nil {
		return nil, err
	}
	st.Status = status

	o.telemetry.Publish(ctx, telemetry.NewEvent(telemetry.EventFinalResult, st, o.clock()))

	if o.metrics != nil {
		o.metrics.TasksCompleted.WithLabelValues(string(status)).Inc()
		o.metrics.IterationsPerTask.Observe(float64(len(st.PastSteps)))
	}

	return st, nil
}

func (o *Orchestrator) runUntilCompletion(ctx context.Context, st *state.State) error {
	iteration := 0

	for iteration < o.maxIterations && len(st.CurrentPlan) > 0 {
		iteration++

		step := st.CurrentPlan[0]
		finalText, err := o.executor.Execute(ctx, step, st, o.executorPrompt)
		if err != nil {
			return err
		}
		st.PastResults = append(st.PastResults, state.StepRawResult{Step: step, FinalText: finalText})

		summary, err := o.summarize(ctx, st)
		if err != nil {
			return err
		}
		outcome := state.StepOutcome{Step: step, Summary: summary}
		st.PastSteps = append(st.PastSteps, outcome)

		if o.metrics != nil {
			label := "failed"
			if outcome.Succeeded() {
				label = "succeeded"
			}
			o.metrics.StepsExecuted.WithLabelValues(label).Inc()
		}

		if err := st.CheckInvariants(); err != nil {
			return taskerr.NewStateViolation("past_steps/past_results parity", err.Error())
		}

		decision, err := o.planner.Replan(ctx, st, false)
		if err != nil {
			return err
		}

		if o.metrics != nil {
			if decision.IsFinal {
				o.metrics.ReplansTotal.WithLabelValues("final_response").Inc()
			} else {
				o.metrics.ReplansTotal.WithLabelValues("plan").Inc()
			}
		}

		if decision.IsFinal {
			st.Response = decision.Response
			return nil
		}

		st.CurrentPlan = decision.Plan
		if len(st.CurrentPlan) == 0 {
			response, err := o.planner.Replan(ctx, st, false)
			if err != nil {
				return err
			}
			st.Response = response.Response
			return nil
		}
	}

	if len(st.CurrentPlan) > 0 {
		if o.logger != nil {
			o.logger.Warn(ctx, "iteration cap reached", "error", taskerr.ErrIterationCapReached, "max_iterations", o.maxIterations)
		}
		decision, err := o.planner.Replan(ctx, st, true)
		if err != nil {
			return err
		}
		st.Response = decision.Response
	}

	return nil
}

// summarize calls the model with the just-appended step/result pair,
// asking it to judge SUCCEEDED/FAILED and produce an information-rich
// summary of at most two sentences, per CORE SPEC §4.5 step 3d.
func (o *Orchestrator) summarize(ctx context.Context, st *state.State) (string, error) {
	last := st.PastResults[len(st.PastResults)-1]

	prompt := fmt.Sprintf(`You are given a step from a plan and the result of executing it.

First determine whether the step FAILED or SUCCEEDED.
Then summarize the result in 1-2 information-rich sentences; never exceed two sentences.
Mention tool calls made (name and count) and any analysis produced.
If the step failed, state why. If it succeeded, state what was accomplished.

Begin your answer with exactly "SUCCEEDED:" or "FAILED:" followed by the summary.

## Step:
%s

## Result:
%s
`, last.Step, strings.Join(last.FinalText, "\n"))

	resp, err := o.adapter.CreateMessage(ctx, &providers.Request{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		System:    summarizeSystemPrompt,
		SessionID: st.SessionID,
		UserID:    st.UserID,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(resp.TextBlocks, "")), nil
}

// categorize makes the Categorizer's final model call, restricted to the
// categorize_task_result tool, per CORE SPEC §4.5 step 5.
func (o *Orchestrator) categorize(ctx context.Context, st *state.State) (state.Status, error) {
	var completed strings.Builder
	for i, outcome := range st.PastSteps {
		fmt.Fprintf(&completed, "%d. %s — %s\n", i+1, outcome.Step, outcome.Summary)
	}

	prompt := fmt.Sprintf(`You are given a task carried out by a plan-execute-replan agent, the steps it ran, and the final response given to the user.

Categorize the task result using the categorize_task_result tool: "completed" if the objective was achieved, "failed" otherwise.
Provide a 1-2 sentence rationale.

## Task:
%s

## Steps:
%s
## Final response:
%s
`, st.Input, completed.String(), st.Response)

	resp, err := o.adapter.CreateMessage(ctx, &providers.Request{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		Tools:     []providers.Tool{categorizationTool()},
		System:    categorizeSystemPrompt,
		SessionID: st.SessionID,
		UserID:    st.UserID,
	})
	if err != nil {
		return "", err
	}

	for _, call := range resp.ToolCalls {
		if call.Name != toolCategorizeTaskResult {
			continue
		}
		if status, ok := call.Arguments["status"].(string); ok {
			switch state.Status(status) {
			case state.StatusCompleted:
				return state.StatusCompleted, nil
			case state.StatusFailed:
				return state.StatusFailed, nil
			}
		}
	}

	// No tool call, or one with an unrecognized status: the original
	// system's fallback is to default to failed rather than guess.
	return state.StatusFailed, nil
}

func categorizationTool() providers.Tool {
	return providers.Tool{
		Name:        toolCategorizeTaskResult,
		Description: "Categorize the task execution result as either completed or failed",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"completed", "failed"},
					"description": "completed if the task succeeded, failed if it did not",
				},
				"rationale": map[string]any{
					"type":        "string",
					"description": "1-2 sentence rationale for the categorization",
				},
			},
			"required": []string{"status", "rationale"},
		},
	}
}
