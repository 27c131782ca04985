package planner

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

type scriptedAdapter struct {
	responses []*providers.Response
	calls     int
	seen      []*providers.Request
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) CreateMessage(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	s.seen = append(s.seen, req)
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func newTestState() *state.State {
	return state.New("find the invoice", state.ProviderAnthropic, "user-1", "task-1", "session-1")
}

func TestInitialPopulatesToolsAndReturnsPlan(t *testing.T) {
	backend := capability.NewFakeBackend([]capability.CatalogEntry{{Name: "list_items", Description: "lists things"}})
	adapter := &scriptedAdapter{responses: []*providers.Response{
		{ToolCalls: []providers.ToolCall{{Name: toolSubmitPlan, Arguments: map[string]any{"plan": []any{"find the invoice", "summarize it"}}}}},
	}}

	p := New(adapter, backend)
	st := newTestState()

	plan, err := p.Initial(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, state.Plan{"find the invoice", "summarize it"}, plan)
	require.Len(t, st.Tools, 1)
	assert.Equal(t, "list_items", st.Tools[0].Name)
}

func TestInitialFallsBackToSentinelWhenUnparseable(t *testing.T) {
	backend := capability.NewFakeBackend(nil)
	adapter := &scriptedAdapter{responses: []*providers.Response{{}}}

	p := New(adapter, backend)
	plan, err := p.Initial(context.Background(), newTestState())
	require.NoError(t, err)
	assert.Equal(t, state.Plan{errPlanGenerationFailed}, plan)
}

func TestInitialLogsParseErrorOnFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Format: "json", Output: &buf})

	backend := capability.NewFakeBackend(nil)
	adapter := &scriptedAdapter{responses: []*providers.Response{{}}}

	p := New(adapter, backend, WithLogger(logger))
	_, err := p.Initial(context.Background(), newTestState())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "parse error")
}

func TestInitialAndReplanRequestsCarryUserID(t *testing.T) {
	backend := capability.NewFakeBackend(nil)
	adapter := &scriptedAdapter{responses: []*providers.Response{
		{ToolCalls: []providers.ToolCall{{Name: toolSubmitPlan, Arguments: map[string]any{"plan": []any{"step"}}}}},
	}}

	p := New(adapter, backend)
	st := newTestState()

	_, err := p.Initial(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, adapter.seen, 1)
	assert.Equal(t, st.UserID, adapter.seen[0].UserID)
}

func TestInitialDoesNotRefetchCatalogOnceTaskHasTools(t *testing.T) {
	backend := capability.NewFakeBackend([]capability.CatalogEntry{{Name: "list_items"}})
	adapter := &scriptedAdapter{responses: []*providers.Response{
		{ToolCalls: []providers.ToolCall{{Name: toolSubmitPlan, Arguments: map[string]any{"plan": []any{"step"}}}}},
	}}

	p := New(adapter, backend)
	st := newTestState()
	st.Tools = []state.ToolCatalogEntry{{Name: "already_cached"}}

	_, err := p.Initial(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, st.Tools, 1)
	assert.Equal(t, "already_cached", st.Tools[0].Name)
}

func TestReplanReturnsPlanDecision(t *testing.T) {
	backend := capability.NewFakeBackend(nil)
	adapter := &scriptedAdapter{responses: []*providers.Response{
		{ToolCalls: []providers.ToolCall{{Name: toolSubmitPlan, Arguments: map[string]any{"plan": []any{"next step"}}}}},
	}}

	p := New(adapter, backend)
	st := newTestState()
	st.CurrentPlan = state.Plan{"first step"}
	st.PastSteps = []state.StepOutcome{{Step: "first step", Summary: "SUCCEEDED: done"}}

	decision, err := p.Replan(context.Background(), st, false)
	require.NoError(t, err)
	assert.False(t, decision.IsFinal)
	assert.Equal(t, state.Plan{"next step"}, decision.Plan)
}

func TestReplanForcesFinalResponseWhenCurrentPlanEmpty(t *testing.T) {
	backend := capability.NewFakeBackend(nil)
	adapter := &scriptedAdapter{responses: []*providers.Response{
		{TextBlocks: []string{"All work is done."}},
	}}

	p := New(adapter, backend)
	st := newTestState()
	st.PastSteps = []state.StepOutcome{{Step: "only step", Summary: "SUCCEEDED: done"}}

	decision, err := p.Replan(context.Background(), st, false)
	require.NoError(t, err)
	assert.True(t, decision.IsFinal)
	assert.Equal(t, "All work is done.", decision.Response)
	assert.Equal(t, 0, len(adapter.seen[0].Tools))
}

func TestReplanForcesFinalResponseAtIterationCap(t *testing.T) {
	backend := capability.NewFakeBackend(nil)
	adapter := &scriptedAdapter{responses: []*providers.Response{
		{TextBlocks: []string{"Ran out of iterations."}},
	}}

	p := New(adapter, backend)
	st := newTestState()
	st.CurrentPlan = state.Plan{"still pending"}

	decision, err := p.Replan(context.Background(), st, true)
	require.NoError(t, err)
	assert.True(t, decision.IsFinal)
	assert.Equal(t, "Ran out of iterations.", decision.Response)
}
