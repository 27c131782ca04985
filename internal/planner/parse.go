package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
)

var (
	jsonExtractRe    = regexp.MustCompile(`(?s)(\[.*?\]|\{.*?\})`)
	markdownBulletRe = regexp.MustCompile(`(?s)[-*]\s*(.*?)(?:\n[-*]|\n\n|\n$|$)`)
	numberedListRe   = regexp.MustCompile(`(?s)\d+\.\s*(.*?)(?:\n\d+\.|\n\n|\n$|$)`)
)

// extractPlanFromResponse looks first for a tool call named toolName and
// decodes its "plan" argument; failing that, it falls back to parsing
// text blocks with extractPlanFromText. Returns nil if every strategy
// fails, leaving the caller to substitute the Could-not-generate-plan
// sentinel.
func extractPlanFromResponse(resp *providers.Response, toolName string) state.Plan {
	for _, call := range resp.ToolCalls {
		if call.Name != toolName {
			continue
		}
		if plan, ok := call.Arguments["plan"]; ok {
			return coercePlanValue(plan)
		}
	}
	return extractPlanFromText(strings.Join(resp.TextBlocks, "\n"))
}

func coercePlanValue(v any) state.Plan {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	plan := make(state.Plan, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			plan = append(plan, state.Step(s))
		}
	}
	if len(plan) == 0 {
		return nil
	}
	return plan
}

// extractPlanFromText is the fallback chain: JSON array, JSON object with
// a "steps" key, markdown bullet list, numbered list, non-empty line
// split. Each strategy is tried in order against the full text; the first
// one that yields at least one step wins.
func extractPlanFromText(text string) state.Plan {
	if plan := tryJSONArray(text); plan != nil {
		return plan
	}
	if plan := tryJSONStepsObject(text); plan != nil {
		return plan
	}
	if plan := tryPattern(text, markdownBulletRe); plan != nil {
		return plan
	}
	if plan := tryPattern(text, numberedListRe); plan != nil {
		return plan
	}
	return tryNonEmptyLines(text)
}

func tryJSONArray(text string) state.Plan {
	match := jsonExtractRe.FindString(text)
	if match == "" || !strings.HasPrefix(strings.TrimSpace(match), "[") {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(match), &items); err != nil {
		return nil
	}
	return stringsToPlan(items)
}

func tryJSONStepsObject(text string) state.Plan {
	match := jsonExtractRe.FindString(text)
	if match == "" || !strings.HasPrefix(strings.TrimSpace(match), "{") {
		return nil
	}
	var obj struct {
		Steps []string `json:"steps"`
	}
	if err := json.Unmarshal([]byte(match), &obj); err != nil {
		return nil
	}
	return stringsToPlan(obj.Steps)
}

func tryPattern(text string, pattern *regexp.Regexp) state.Plan {
	matches := pattern.FindAllStringSubmatch(text, -1)
	items := make([]string, 0, len(matches))
	for _, m := range matches {
		items = append(items, m[1])
	}
	return stringsToPlan(items)
}

func tryNonEmptyLines(text string) state.Plan {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return stringsToPlan(items)
}

func stringsToPlan(items []string) state.Plan {
	plan := make(state.Plan, 0, len(items))
	for _, s := range items {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			plan = append(plan, state.Step(trimmed))
		}
	}
	if len(plan) == 0 {
		return nil
	}
	return plan
}

// finalResponseMarkers are the prose phrases that signal a textual replan
// reply should be treated as a final response rather than re-run through
// the plan-extraction chain.
var finalResponseMarkers = []string{"objective has been achieved", "final response"}

// processReplanResponse turns a replan model response into a Decision,
// preferring a tool call (submit_plan or submit_final_response) and
// falling back to the prose markers and then plan re-extraction when the
// model answered in free text instead. If nothing can be parsed, the
// current plan is returned unchanged, matching the original's failure
// mode of making no forward progress rather than guessing.
func processReplanResponse(resp *providers.Response, st *state.State) Decision {
	for _, call := range resp.ToolCalls {
		switch call.Name {
		case toolSubmitFinalResponse:
			if response, ok := call.Arguments["response"].(string); ok {
				return Decision{IsFinal: true, Response: response}
			}
		case toolSubmitPlan:
			if plan := coercePlanValue(call.Arguments["plan"]); plan != nil {
				return Decision{Plan: plan}
			}
		}
	}

	text := strings.Join(resp.TextBlocks, "\n")
	lower := strings.ToLower(text)
	for _, marker := range finalResponseMarkers {
		if strings.Contains(lower, marker) {
			return Decision{IsFinal: true, Response: strings.TrimSpace(text)}
		}
	}

	if plan := extractPlanFromText(text); plan != nil {
		return Decision{Plan: plan}
	}

	return Decision{Plan: st.CurrentPlan}
}

// replanPrompt assembles the objective, current plan, past steps, the
// step-tracking block, and the tool-results index, per CORE SPEC §4.4.
func replanPrompt(st *state.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Objective:\n%s\n\n", st.Input)

	b.WriteString("## Current plan:\n")
	for i, step := range st.CurrentPlan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("\n")

	b.WriteString("## Steps completed:\n")
	for i, outcome := range st.PastSteps {
		fmt.Fprintf(&b, "%d. %s\n   Result: %s\n", i+1, outcome.Step, outcome.Summary)
	}
	b.WriteString("\n")

	b.WriteString(stepTrackingBlock(st))
	b.WriteString("\n")

	if len(st.ToolResults) > 0 {
		b.WriteString("## Tool results recorded this task:\n")
		for id, record := range st.ToolResults {
			fmt.Fprintf(&b, "- %s (id=%s)\n", record.ToolName, id)
		}
		b.WriteString("\n")
	}

	b.WriteString("Decide: submit_plan with the remaining steps, or submit_final_response if the objective has been achieved.")
	return b.String()
}

// stepTrackingBlock renders the literal CRITICAL STEP TRACKING comparison
// the original prompt uses to stop the model from declaring victory after
// a step other than the last planned one just completed.
func stepTrackingBlock(st *state.State) string {
	lastPlanned := state.Step("")
	if len(st.CurrentPlan) > 0 {
		lastPlanned = st.CurrentPlan[len(st.CurrentPlan)-1]
	}
	lastCompleted := st.LastCompletedStep()

	mark := "❌"
	if lastPlanned != "" && lastPlanned == lastCompleted {
		mark = "✅"
	}

	var b strings.Builder
	b.WriteString("## CRITICAL STEP TRACKING:\n")
	fmt.Fprintf(&b, "Last planned step: %s\n", lastPlanned)
	fmt.Fprintf(&b, "Last completed step: %s\n", lastCompleted)
	fmt.Fprintf(&b, "%s %s\n", mark, trackingVerdict(mark))
	return b.String()
}

func trackingVerdict(mark string) string {
	if mark == "✅" {
		return "The last planned step has been completed."
	}
	return "The last planned step has NOT been completed yet — do not submit a final response."
}
