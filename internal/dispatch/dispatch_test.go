package dispatch

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIAtrium/mcp-assistant/internal/capability"
	"github.com/AIAtrium/mcp-assistant/internal/observability"
	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
)

func newTestState() *state.State {
	s := state.New("find the invoice", state.ProviderAnthropic, "user-1", "task-1", "session-1")
	s.CurrentPlan = state.Plan{"find the invoice"}
	return s
}

func TestDispatchReferenceToolOutputFound(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.RecordToolResult("t1", "list_items", `{"id":"inv-1"}`))

	d := New(capability.NewFakeBackend(nil), false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{
		ID:        "t2",
		Name:      toolReferenceOutput,
		Arguments: map[string]any{"tool_id": "t1"},
	}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Equal(t, `{"id":"inv-1"}`, outcome.ResultContent)
}

func TestDispatchReferenceToolOutputExtractsPath(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.RecordToolResult("t1", "list_items", `{"id":"inv-1"}`))

	d := New(capability.NewFakeBackend(nil), false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{
		ID:        "t2",
		Name:      toolReferenceOutput,
		Arguments: map[string]any{"tool_id": "t1", "extract_path": "id"},
	}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Equal(t, "inv-1", outcome.ResultContent)
}

func TestDispatchReferenceToolOutputMissing(t *testing.T) {
	s := newTestState()
	d := New(capability.NewFakeBackend(nil), false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{
		ID:        "t2",
		Name:      toolReferenceOutput,
		Arguments: map[string]any{"tool_id": "missing"},
	}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Equal(t, "Error: No tool result found with ID 'missing'", outcome.ResultContent)
}

func TestDispatchGetPreviousStepResultRejectsInvalidStepNumber(t *testing.T) {
	s := newTestState()
	d := New(capability.NewFakeBackend(nil), false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{
		ID:        "t1",
		Name:      toolGetPreviousStepResult,
		Arguments: map[string]any{"step_number": float64(0)},
	}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Equal(t, "Error: Invalid step number. Please provide a step number >= 1.", outcome.ResultContent)
}

func TestDispatchGetPreviousStepResultReturnsRawText(t *testing.T) {
	s := newTestState()
	s.RecordStep(state.StepOutcome{Step: "gather data", Summary: "SUCCEEDED: done"}, state.StepRawResult{Step: "gather data", FinalText: []string{"line one", "line two"}})

	d := New(capability.NewFakeBackend(nil), false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{
		ID:        "t1",
		Name:      toolGetPreviousStepResult,
		Arguments: map[string]any{"step_number": float64(1)},
	}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Equal(t, "Step 1 (gather data):\nline one\nline two", outcome.ResultContent)
}

func TestDispatchSignalInsufficientContextRequiresReason(t *testing.T) {
	s := newTestState()
	d := New(capability.NewFakeBackend(nil), false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{ID: "t1", Name: toolSignalInsufficientCtx, Arguments: map[string]any{}}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Equal(t, "Error: No reason provided for insufficient context", outcome.ResultContent)
}

func TestDispatchSignalInsufficientContextFormatsReason(t *testing.T) {
	s := newTestState()
	d := New(capability.NewFakeBackend(nil), false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{
		ID:        "t1",
		Name:      toolSignalInsufficientCtx,
		Arguments: map[string]any{"reason": "no matching invoice found"},
	}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Equal(t, "STEP_FAILED_INSUFFICIENT_CONTEXT: no matching invoice found", outcome.ResultContent)
}

func TestDispatchStandardToolRecordsResultAndIsNotMetaTool(t *testing.T) {
	s := newTestState()
	backend := capability.NewFakeBackend([]capability.CatalogEntry{{Name: "list_items"}})
	backend.Results["list_items"] = capability.ExecuteResult{Success: true, Value: "done"}

	d := New(backend, false)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{
		ID:        "t1",
		Name:      "list_items",
		Arguments: map[string]any{"q": "invoice"},
	}, providers.Message{Content: "checking"}, s)

	require.NoError(t, err)
	assert.Equal(t, "done", outcome.ResultContent)
	record, ok := s.ToolResults["t1"]
	require.True(t, ok)
	assert.Equal(t, "list_items", record.ToolName)
}

func TestDispatchStandardToolLogsExecution(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Format: "json", Output: &buf, Level: "debug"})

	s := newTestState()
	backend := capability.NewFakeBackend([]capability.CatalogEntry{{Name: "list_items"}})
	backend.Results["list_items"] = capability.ExecuteResult{Success: true, Value: "done"}

	d := New(backend, false, WithLogger(logger))
	_, err := d.Dispatch(context.Background(), providers.ToolCall{ID: "t1", Name: "list_items"}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "tool executed")
}

func TestDispatchStandardToolSkipsAuthWhenConfigured(t *testing.T) {
	s := newTestState()
	backend := capability.NewFakeBackend([]capability.CatalogEntry{{Name: "send_email"}})
	backend.AuthStatus["send_email"] = capability.AuthPending

	d := New(backend, true)
	outcome, err := d.Dispatch(context.Background(), providers.ToolCall{ID: "t1", Name: "send_email"}, providers.Message{}, s)

	require.NoError(t, err)
	assert.Contains(t, outcome.ResultContent, "requires authorization")
}

func TestAppendMessagesAnthropicEchoesAssistantThenUserToolResult(t *testing.T) {
	call := providers.ToolCall{ID: "t1", Name: "list_items"}
	msgs := appendMessages(call, providers.Message{Content: "checking"}, "done", state.ProviderAnthropic)

	require.Len(t, msgs, 2)
	assert.Equal(t, providers.RoleAssistant, msgs[0].Role)
	assert.Equal(t, providers.RoleTool, msgs[1].Role)
	assert.Equal(t, "t1", msgs[1].ToolResults[0].ToolCallID)
}

func TestAppendMessagesOpenAIClearsContentOnToolCallTurn(t *testing.T) {
	call := providers.ToolCall{ID: "t1", Name: "list_items"}
	msgs := appendMessages(call, providers.Message{Content: "checking"}, "done", state.ProviderOpenAI)

	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].Content)
	require.Len(t, msgs[0].ToolCalls, 1)
}
