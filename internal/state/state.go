// Package state defines the task-scoped data model threaded by reference
// through the Planner, Step Executor, Tool Dispatcher, and Orchestrator:
// the Plan, the running history of step outcomes and raw results, the tool
// call ledger, and the State aggregate that owns all of it.
package state

import (
	"fmt"

	"github.com/google/uuid"
)

// Provider names the supported model-provider dialects.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Status is the task's terminal outcome, set once by the Categorizer.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step is an immutable description of an actionable sub-goal. It has no
// identity beyond its position in a Plan.
type Step string

// Plan is an ordered list of Steps.
type Plan []Step

// StepOutcome pairs a completed Step with its 1-2 sentence LLM-generated
// summary, which always begins with "SUCCEEDED" or "FAILED".
type StepOutcome struct {
	Step    Step
	Summary string
}

// Succeeded reports whether the outcome's summary begins with SUCCEEDED.
// Summaries are produced by the Summarizer and are trusted verbatim; this
// is a convenience predicate, not a parser for structured data.
func (o StepOutcome) Succeeded() bool {
	return len(o.Summary) >= len("SUCCEEDED") && o.Summary[:len("SUCCEEDED")] == "SUCCEEDED"
}

// StepRawResult pairs a completed Step with the ordered, unjoined sequence
// of textual fragments the Step Executor emitted while running it. This is
// what get_previous_step_result exposes to later steps.
type StepRawResult struct {
	Step      Step
	FinalText []string
}

// ToolCallRecord is the value half of State.ToolResults: the name of the
// tool that was called and the raw result string it returned. Meta-tool
// invocations are never recorded here.
type ToolCallRecord struct {
	ToolName  string
	RawResult string
}

// ToolCatalogEntry describes one capability available to the model,
// fetched once per task from the capability backend and cached read-only
// on State after Planner.initial populates it.
type ToolCatalogEntry struct {
	Name        string
	Description string
	Parameters  []byte // raw JSON Schema, validated lazily by internal/dispatch
}

// State is the task-scoped aggregate described in CORE SPEC §3. It is
// created once by the Orchestrator and mutated in place by the components
// that follow; there is no shared mutable state beyond what hangs off this
// struct plus process-wide configuration.
type State struct {
	Input    string
	Provider Provider

	// InitialPlan is immutable once Planner.initial sets it. Per the Open
	// Question decision recorded in DESIGN.md, it is retained only for the
	// telemetry initial_plan event and the Categorizer's closing summary —
	// Planner.replan and the Step Executor never read it.
	InitialPlan Plan

	// CurrentPlan is rewritten wholesale on every replan.
	CurrentPlan Plan

	// PastSteps and PastResults are append-only and kept parallel: after
	// every Orchestrator iteration len(PastSteps) == len(PastResults).
	//
	// PastResults is never truncated before being exposed via
	// get_previous_step_result, matching source behavior exactly (see the
	// Open Question decision in SPEC_FULL.md) — very large raw results can
	// therefore exceed a later step's model context window.
	PastSteps   []StepOutcome
	PastResults []StepRawResult

	// ToolResults maps a provider-generated tool_id to the record of what
	// that call did. Keys are unique per task and never reused.
	ToolResults map[string]ToolCallRecord

	// Tools is the cached capability catalog. Read-only after
	// Planner.initial populates it.
	Tools []ToolCatalogEntry

	Response string
	Status   Status

	SessionID string
	UserID    string
	TaskID    string
}

// New creates a State for a fresh task invocation. sessionID/taskID are
// generated with uuid.NewString when the caller does not supply them,
// matching the Orchestrator's "fresh session id if not supplied" step.
func New(input string, provider Provider, userID, taskID, sessionID string) *State {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &State{
		Input:       input,
		Provider:    provider,
		PastSteps:   make([]StepOutcome, 0),
		PastResults: make([]StepRawResult, 0),
		ToolResults: make(map[string]ToolCallRecord),
		UserID:      userID,
		TaskID:      taskID,
		SessionID:   sessionID,
	}
}

// RecordStep appends a completed step's outcome and raw result, preserving
// the parallel-index invariant between PastSteps and PastResults. It is the
// only way new entries should be added to either slice.
func (s *State) RecordStep(outcome StepOutcome, raw StepRawResult) {
	s.PastSteps = append(s.PastSteps, outcome)
	s.PastResults = append(s.PastResults, raw)
}

// RecordToolResult stores a standard (non-meta) tool call's result, keyed
// by its provider-generated tool_id. It panics via a returned error rather
// than silently overwriting if the id was already used, since tool_id
// uniqueness is an invariant the caller (internal/dispatch) must uphold.
func (s *State) RecordToolResult(toolID, toolName, rawResult string) error {
	if _, exists := s.ToolResults[toolID]; exists {
		return fmt.Errorf("tool_id %q already recorded", toolID)
	}
	s.ToolResults[toolID] = ToolCallRecord{ToolName: toolName, RawResult: rawResult}
	return nil
}

// LastCompletedStep returns the step most recently appended to PastSteps,
// or "" if none has completed yet.
func (s *State) LastCompletedStep() Step {
	if len(s.PastSteps) == 0 {
		return ""
	}
	return s.PastSteps[len(s.PastSteps)-1].Step
}

// IsFinalStep reports whether step equals the last element of the most
// recently set CurrentPlan — the definition of "final" from CORE SPEC §3.
func (s *State) IsFinalStep(step Step) bool {
	if len(s.CurrentPlan) == 0 {
		return false
	}
	return s.CurrentPlan[len(s.CurrentPlan)-1] == step
}

// CheckInvariants validates the §3 invariants that can be checked cheaply
// at any point in the task. It returns a descriptive error rather than
// panicking; callers (the Orchestrator) convert a non-nil result into a
// StateViolation.
func (s *State) CheckInvariants() error {
	if len(s.PastSteps) != len(s.PastResults) {
		return fmt.Errorf("len(past_steps)=%d != len(past_results)=%d", len(s.PastSteps), len(s.PastResults))
	}
	return nil
}

// Sanitized returns a shallow copy of State with ToolResults and Tools
// cleared, matching the telemetry publisher's requirement (CORE SPEC §6)
// that published events contain neither field.
func (s *State) Sanitized() *State {
	cp := *s
	cp.ToolResults = nil
	cp.Tools = nil
	return &cp
}
