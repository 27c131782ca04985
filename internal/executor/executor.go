// Package executor implements the Step Executor (CORE SPEC §4.3): the
// inner loop that drives a single Step to completion by alternating model
// calls through the Provider Adapter with tool dispatches through the
// Tool Dispatcher, one tool call per turn.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AIAtrium/mcp-assistant/internal/dispatch"
	"github.com/AIAtrium/mcp-assistant/internal/observability"
	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
)

// defaultSystemPrompt mirrors the original's "You are a helpful assistant"
// fallback for callers that don't supply a step-specific one.
const defaultSystemPrompt = "You are a helpful assistant."

// Executor drives the inner loop for one Step at a time.
type Executor struct {
	adapter    providers.Adapter
	dispatcher *dispatch.Dispatcher
	logger     *observability.Logger
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithLogger attaches a logger; the default is silent.
func WithLogger(logger *observability.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New constructs an Executor bound to one model adapter and dispatcher for
// the lifetime of a task; both are safe to reuse across steps.
func New(adapter providers.Adapter, dispatcher *dispatch.Dispatcher, opts ...Option) *Executor {
	e := &Executor{adapter: adapter, dispatcher: dispatcher}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs step to completion: calling the Provider Adapter, walking
// text blocks into the ordered result, and dispatching the first tool call
// of each response until a response carries none. The returned slice is
// the literal, unjoined CORE SPEC §4.3 step 5 contract.
func (e *Executor) Execute(ctx context.Context, step state.Step, st *state.State, systemPrompt string) ([]string, error) {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	var finalText []string
	conversation := []providers.Message{{Role: providers.RoleUser, Content: composeUserPrompt(step, st)}}
	tools := toolCatalog(st)

	for {
		resp, err := e.adapter.CreateMessage(ctx, &providers.Request{
			Messages:  conversation,
			Tools:     tools,
			System:    systemPrompt,
			SessionID: st.SessionID,
			UserID:    st.UserID,
		})
		if err != nil {
			return finalText, err
		}

		finalText = append(finalText, resp.TextBlocks...)

		if len(resp.ToolCalls) == 0 {
			return finalText, nil
		}

		call := resp.ToolCalls[0]
		// Only the text preceding this call and the call itself belong on
		// the assistant turn the Tool Dispatcher echoes back; any further
		// tool calls in this same response are never processed (CORE SPEC
		// §4.3 step 4c: first tool call only, remainder discarded).
		assistantTurn := providers.Message{Content: strings.Join(resp.TextBlocks, "")}

		outcome, err := e.dispatcher.Dispatch(ctx, call, assistantTurn, st)
		if err != nil {
			return finalText, err
		}
		if e.logger != nil {
			e.logger.Debug(ctx, "dispatched tool call", "tool", call.Name, "tool_id", call.ID)
		}

		conversation = append(conversation, outcome.AppendMessages...)
	}
}

// composeUserPrompt assembles the objective, plan, history, and tool
// results index described in CORE SPEC §4.3 step 2.
func composeUserPrompt(step state.Step, st *state.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "OBJECTIVE:\n%s\n\n", st.Input)

	fmt.Fprintf(&b, "CURRENT PLAN:\n")
	for i, s := range st.CurrentPlan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\n")

	if len(st.PastSteps) > 0 {
		b.WriteString("COMPLETED STEPS:\n")
		for i, outcome := range st.PastSteps {
			fmt.Fprintf(&b, "%d. %s — %s\n", i+1, outcome.Step, outcome.Summary)
		}
		b.WriteString("\n")
	}

	if len(st.ToolResults) > 0 {
		b.WriteString("AVAILABLE TOOL RESULTS (reference via reference_tool_output):\n")
		for id, record := range st.ToolResults {
			fmt.Fprintf(&b, "- %s (id=%s)\n", record.ToolName, id)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "CURRENT STEP:\n%s\n\n", step)
	b.WriteString("Execute this step now. When you are done, summarize the outcome prefixed with RESULT:. Do not truncate intermediate output. Do not guess at missing identifiers; if data a prior step should have produced is unavailable, declare this step failed.")

	return b.String()
}

// toolCatalog merges the task's cached capability catalog with the
// always-advertised meta-tools, in schema form for the Provider Adapter.
func toolCatalog(st *state.State) []providers.Tool {
	tools := make([]providers.Tool, 0, len(st.Tools)+3)
	for _, entry := range st.Tools {
		tools = append(tools, providers.Tool{
			Name:        entry.Name,
			Description: entry.Description,
			Parameters:  schemaToMap(entry.Parameters),
		})
	}
	return append(tools, dispatch.MetaTools()...)
}

// schemaToMap decodes a tool's cached raw JSON Schema into the map shape
// providers.Tool carries; an empty or malformed schema degrades to an
// empty object schema rather than failing catalog construction.
func schemaToMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return decoded
}
