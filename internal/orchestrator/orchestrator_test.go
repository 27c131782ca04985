package orchestrator

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AIAtrium/mcp-assistant/internal/capability"
	"github.com/AIAtrium/mcp-assistant/internal/dispatch"
	"github.com/AIAtrium/mcp-assistant/internal/executor"
	"github.com/AIAtrium/mcp-assistant/internal/observability"
	"github.com/AIAtrium/mcp-assistant/internal/planner"
	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
	"github.com/AIAtrium/mcp-assistant/internal/telemetry"
)

// scriptedAdapter replays one response per CreateMessage call, in order,
// regardless of which component (Planner, Step Executor, Summarizer,
// Categorizer) made the call.
type scriptedAdapter struct {
	responses []*providers.Response
	calls     int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) CreateMessage(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func toolCall(id, name string, args map[string]any) providers.ToolCall {
	return providers.ToolCall{ID: id, Name: name, Arguments: args}
}

func TestRunHappyPathSingleStepToCompletion(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*providers.Response{
		// 1. Planner.Initial
		{ToolCalls: []providers.ToolCall{toolCall("p1", "submit_plan", map[string]any{"plan": []any{"find the invoice"}})}},
		// 2. Step Executor's only model call for the step
		{TextBlocks: []string{"RESULT: found it"}},
		// 3. Summarizer
		{TextBlocks: []string{"SUCCEEDED: the invoice was located"}},
		// 4. Planner.Replan
		{ToolCalls: []providers.ToolCall{toolCall("p2", "submit_final_response", map[string]any{"response": "Found the invoice."})}},
		// 5. Categorizer
		{ToolCalls: []providers.ToolCall{toolCall("p3", "categorize_task_result", map[string]any{"status": "completed", "rationale": "objective met"})}},
	}}

	backend := capability.NewFakeBackend(nil)
	p := planner.New(adapter, backend)
	ex := executor.New(adapter, dispatch.New(backend, false))

	var published []telemetry.EventType
	sink := telemetry.NewCallbackSink(func(ctx context.Context, e telemetry.Event) {
		published = append(published, e.EventType)
	})

	o := New(adapter, p, ex, WithTelemetry(sink))

	st, err := o.Run(context.Background(), "find and summarize the invoice", state.ProviderAnthropic, "user-1", "task-1", "session-1")

	require.NoError(t, err)
	assert.Equal(t, "Found the invoice.", st.Response)
	assert.Equal(t, state.StatusCompleted, st.Status)
	require.Len(t, st.PastSteps, 1)
	assert.True(t, st.PastSteps[0].Succeeded())
	assert.Equal(t, []telemetry.EventType{telemetry.EventInitialPlan, telemetry.EventFinalResult}, published)
	assert.Equal(t, 5, adapter.calls)
}

func TestRunLogsTaskStartAndIterationCap(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Format: "json", Output: &buf})

	adapter := &scriptedAdapter{responses: []*providers.Response{
		// Planner.Initial
		{ToolCalls: []providers.ToolCall{toolCall("p1", "submit_plan", map[string]any{"plan": []any{"loop forever"}})}},
		// Step Executor
		{TextBlocks: []string{"RESULT: still working"}},
		// Summarizer
		{TextBlocks: []string{"FAILED: not done yet"}},
		// Replan keeps returning the same single-step plan, never finishing
		{ToolCalls: []providers.ToolCall{toolCall("p2", "submit_plan", map[string]any{"plan": []any{"loop forever"}})}},
		// forced final-response call at the cap (no tools offered)
		{TextBlocks: []string{"Ran out of iterations."}},
		// Categorizer
		{ToolCalls: []providers.ToolCall{toolCall("p3", "categorize_task_result", map[string]any{"status": "failed", "rationale": "did not finish"})}},
	}}

	backend := capability.NewFakeBackend(nil)
	p := planner.New(adapter, backend)
	ex := executor.New(adapter, dispatch.New(backend, false))

	o := New(adapter, p, ex, WithMaxIterations(1), WithLogger(logger))

	_, err := o.Run(context.Background(), "loop forever", state.ProviderAnthropic, "user-1", "task-1", "session-1")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "task started")
	assert.Contains(t, output, "iteration cap reached")
}

func TestRunForcesFinalResponseAtIterationCap(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*providers.Response{
		// Planner.Initial
		{ToolCalls: []providers.ToolCall{toolCall("p1", "submit_plan", map[string]any{"plan": []any{"loop forever"}})}},
		// Step Executor
		{TextBlocks: []string{"RESULT: still working"}},
		// Summarizer
		{TextBlocks: []string{"FAILED: not done yet"}},
		// Replan keeps returning the same single-step plan, never finishing
		{ToolCalls: []providers.ToolCall{toolCall("p2", "submit_plan", map[string]any{"plan": []any{"loop forever"}})}},
		// forced final-response call at the cap (no tools offered)
		{TextBlocks: []string{"Ran out of iterations."}},
		// Categorizer
		{ToolCalls: []providers.ToolCall{toolCall("p3", "categorize_task_result", map[string]any{"status": "failed", "rationale": "did not finish"})}},
	}}

	backend := capability.NewFakeBackend(nil)
	p := planner.New(adapter, backend)
	ex := executor.New(adapter, dispatch.New(backend, false))

	o := New(adapter, p, ex, WithMaxIterations(1))

	st, err := o.Run(context.Background(), "loop forever", state.ProviderAnthropic, "user-1", "task-1", "session-1")

	require.NoError(t, err)
	assert.Equal(t, "Ran out of iterations.", st.Response)
	assert.Equal(t, state.StatusFailed, st.Status)
}

func TestRunPropagatesInitialPlanError(t *testing.T) {
	adapter := &erroringAdapter{}
	backend := capability.NewFakeBackend(nil)
	p := planner.New(adapter, backend)
	ex := executor.New(adapter, dispatch.New(backend, false))

	o := New(adapter, p, ex)
	_, err := o.Run(context.Background(), "anything", state.ProviderAnthropic, "user-1", "task-1", "session-1")
	assert.Error(t, err)
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	orig := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = orig }()
	metrics := observability.NewMetrics()

	adapter := &scriptedAdapter{responses: []*providers.Response{
		{ToolCalls: []providers.ToolCall{toolCall("p1", "submit_plan", map[string]any{"plan": []any{"find the invoice"}})}},
		{TextBlocks: []string{"RESULT: found it"}},
		{TextBlocks: []string{"SUCCEEDED: the invoice was located"}},
		{ToolCalls: []providers.ToolCall{toolCall("p2", "submit_final_response", map[string]any{"response": "Found the invoice."})}},
		{ToolCalls: []providers.ToolCall{toolCall("p3", "categorize_task_result", map[string]any{"status": "completed", "rationale": "objective met"})}},
	}}

	backend := capability.NewFakeBackend(nil)
	p := planner.New(adapter, backend)
	ex := executor.New(adapter, dispatch.New(backend, false))

	o := New(adapter, p, ex, WithMetrics(metrics))
	_, err := o.Run(context.Background(), "find and summarize the invoice", state.ProviderAnthropic, "user-1", "task-1", "session-1")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StepsExecuted.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReplansTotal.WithLabelValues("final_response")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksCompleted.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.IterationsPerTask))
}

type erroringAdapter struct{}

func (e *erroringAdapter) Name() string { return "erroring" }
func (e *erroringAdapter) CreateMessage(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	return nil, assert.AnError
}
