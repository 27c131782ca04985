// Package planner implements the two pure functions described in CORE
// SPEC §4.4: Initial, which turns an objective into a first Plan, and
// Replan, which turns execution history into either a revised Plan or a
// FinalResponse. Both are realized by prompting the model provider through
// the Provider Adapter and recovering from prose output via a fallback
// parser chain, grounded on the original's extract_plan_from_response.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/AIAtrium/mcp-assistant/internal/capability"
	"github.com/AIAtrium/mcp-assistant/internal/observability"
	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
	"github.com/AIAtrium/mcp-assistant/internal/taskerr"
)

const (
	toolSubmitPlan          = "submit_plan"
	toolSubmitFinalResponse = "submit_final_response"
	errPlanGenerationFailed = "Error: Could not generate plan"
)

const initialSystemPrompt = `You are a planning agent responsible for breaking an objective down into a minimal, ordered list of actionable steps.

Rules:
- Produce the smallest step list that accomplishes the objective; do not pad it with steps that aren't necessary.
- Do not include irreversible write actions (sending messages, deleting data, making payments) unless the user's objective explicitly asked for them.
- The result of the final step is treated as the final answer, so the last step should produce or state that answer.

Submit your plan using the submit_plan tool.`

const replanSystemPrompt = `You are a planning agent responsible for deciding what remains to be done given an objective and the steps completed so far.

Rules:
- Produce only the remaining, not-yet-done steps. Never repeat a step that already completed.
- Only submit a final response when the last step of the current plan was the most recently completed step AND the objective has actually been met by the results so far.
- If a critical step has failed three times in a row, stop retrying it: submit a final response that acknowledges the failure and summarizes what was accomplished.

Use submit_plan to continue with remaining steps, or submit_final_response when the objective is met.`

// Planner drives Initial and Replan against one model adapter and one
// capability backend, and populates state.Tools the first time it runs.
type Planner struct {
	adapter providers.Adapter
	backend capability.Backend
	logger  *observability.Logger
}

// Option configures a Planner at construction time.
type Option func(*Planner)

// WithLogger attaches a logger; the default is silent.
func WithLogger(logger *observability.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// New constructs a Planner bound to the given provider adapter and
// capability backend for the lifetime of a task.
func New(adapter providers.Adapter, backend capability.Backend, opts ...Option) *Planner {
	p := &Planner{adapter: adapter, backend: backend}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decision is the result of Replan: exactly one of Plan or FinalResponse
// is meaningful, distinguished by IsFinal.
type Decision struct {
	IsFinal  bool
	Plan     state.Plan
	Response string
}

// Initial produces the first Plan for st.Input, and — per CORE SPEC
// §4.4's side effect — populates st.Tools from the capability backend the
// first time it is called for this task.
func (p *Planner) Initial(ctx context.Context, st *state.State) (state.Plan, error) {
	if len(st.Tools) == 0 {
		catalog, err := p.backend.ListTools(ctx, st.UserID)
		if err != nil {
			return nil, fmt.Errorf("planner: failed to fetch tool catalog: %w", err)
		}
		st.Tools = catalogToEntries(catalog)
	}

	prompt := fmt.Sprintf("## Objective:\n%s\n", st.Input)
	resp, err := p.adapter.CreateMessage(ctx, &providers.Request{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		Tools:     []providers.Tool{submitPlanTool()},
		System:    initialSystemPrompt,
		SessionID: st.SessionID,
		UserID:    st.UserID,
	})
	if err != nil {
		return nil, err
	}

	steps := extractPlanFromResponse(resp, toolSubmitPlan)
	if steps == nil {
		parseErr := &taskerr.ParseError{Strategy: "tool_call,json,markdown,numbered,lines", Cause: fmt.Errorf("no strategy produced a non-empty plan")}
		if p.logger != nil {
			p.logger.Warn(ctx, "plan generation fell back to the failure sentinel", "error", parseErr)
		}
		steps = state.Plan{errPlanGenerationFailed}
	}
	return steps, nil
}

// Replan produces the next Decision from the task's current history,
// following the state machine in CORE SPEC §4.4's replan table. atCap
// forces a FinalResponse regardless of what the model says, per the
// "iteration count >= max" row.
func (p *Planner) Replan(ctx context.Context, st *state.State, atCap bool) (Decision, error) {
	if len(st.CurrentPlan) == 0 {
		return p.forceFinalResponse(ctx, st, incompleteSummaryPrompt(st, true))
	}
	if atCap {
		return p.forceFinalResponse(ctx, st, incompleteSummaryPrompt(st, false))
	}

	prompt := replanPrompt(st)
	resp, err := p.adapter.CreateMessage(ctx, &providers.Request{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		Tools:     []providers.Tool{submitPlanTool(), submitFinalResponseTool()},
		System:    replanSystemPrompt,
		SessionID: st.SessionID,
		UserID:    st.UserID,
	})
	if err != nil {
		return Decision{}, err
	}

	return processReplanResponse(resp, st), nil
}

// forceFinalResponse asks the model, with no tools offered, to produce a
// plain-text summary from promptText, and wraps it as a terminal Decision.
// This is the "no tools" closing-summary call CORE SPEC §4.5 steps 3h and
// 4 describe for an emptied plan or an exhausted iteration cap.
func (p *Planner) forceFinalResponse(ctx context.Context, st *state.State, promptText string) (Decision, error) {
	resp, err := p.adapter.CreateMessage(ctx, &providers.Request{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: promptText}},
		System:    replanSystemPrompt,
		SessionID: st.SessionID,
		UserID:    st.UserID,
	})
	if err != nil {
		return Decision{}, err
	}
	return Decision{IsFinal: true, Response: strings.Join(resp.TextBlocks, "")}, nil
}

func catalogToEntries(catalog []capability.CatalogEntry) []state.ToolCatalogEntry {
	entries := make([]state.ToolCatalogEntry, len(catalog))
	for i, c := range catalog {
		entries[i] = state.ToolCatalogEntry{Name: c.Name, Description: c.Description, Parameters: c.Parameters}
	}
	return entries
}

func submitPlanTool() providers.Tool {
	return providers.Tool{
		Name:        toolSubmitPlan,
		Description: "Submit a plan as a JSON array of strings, where each string is a step in the plan",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"plan": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Array of strings where each string is a step in the plan",
				},
			},
			"required": []string{"plan"},
		},
	}
}

func submitFinalResponseTool() providers.Tool {
	return providers.Tool{
		Name:        toolSubmitFinalResponse,
		Description: "Submit a final response to the user when the objective is achieved",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"response": map[string]any{"type": "string", "description": "Final response to the user"},
			},
			"required": []string{"response"},
		},
	}
}

func incompleteSummaryPrompt(st *state.State, planCompleted bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Objective:\n%s\n\n", st.Input)
	if planCompleted {
		b.WriteString("## Steps completed:\n")
	} else {
		fmt.Fprintf(&b, "## Steps completed (plan not finished within the iteration budget):\n")
	}
	for i, outcome := range st.PastSteps {
		fmt.Fprintf(&b, "%d. %s\n   Result: %s\n\n", i+1, outcome.Step, outcome.Summary)
	}
	if planCompleted {
		b.WriteString("Please provide a final summary of what was accomplished.")
	} else {
		b.WriteString("## Remaining steps:\n")
		for i, step := range st.CurrentPlan {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
		b.WriteString("\nPlease provide a summary of progress made and what remains to be done.")
	}
	return b.String()
}
