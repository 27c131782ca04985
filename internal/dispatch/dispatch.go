// Package dispatch implements the Tool Dispatcher (CORE SPEC §4.2): the
// routing layer between a model-emitted ToolCall and either a meta-tool
// handled entirely in-process, or a standard tool forwarded to the
// capability backend.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AIAtrium/mcp-assistant/internal/capability"
	"github.com/AIAtrium/mcp-assistant/internal/observability"
	"github.com/AIAtrium/mcp-assistant/internal/providers"
	"github.com/AIAtrium/mcp-assistant/internal/state"
	"github.com/AIAtrium/mcp-assistant/internal/taskerr"
)

const (
	toolReferenceOutput        = "reference_tool_output"
	toolGetPreviousStepResult  = "get_previous_step_result"
	toolSignalInsufficientCtx  = "signal_insufficient_context"
)

// IsMetaTool reports whether name is one of the three sentinel tools the
// Tool Dispatcher handles without touching the capability backend.
func IsMetaTool(name string) bool {
	switch name {
	case toolReferenceOutput, toolGetPreviousStepResult, toolSignalInsufficientCtx:
		return true
	default:
		return false
	}
}

// MetaTools returns the catalog entries advertised to the model on every
// Step Executor call, regardless of what the capability backend returns.
// Per the SUPPLEMENTED FEATURES decision, all three are advertised even
// though source code only wired one of them into its per-call tool list.
func MetaTools() []providers.Tool {
	return []providers.Tool{
		{
			Name:        toolReferenceOutput,
			Description: "Look up the full result of a tool call made earlier in this step by its tool_id, optionally extracting one field via a dotted JSON path.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tool_id":      map[string]any{"type": "string"},
					"extract_path": map[string]any{"type": "string"},
				},
				"required": []string{"tool_id"},
			},
		},
		{
			Name:        toolGetPreviousStepResult,
			Description: "Fetch the raw, unsummarized output of a step that already completed, by its 1-based position in the plan.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"step_number": map[string]any{"type": "integer"},
				},
				"required": []string{"step_number"},
			},
		},
		{
			Name:        toolSignalInsufficientCtx,
			Description: "Declare that this step cannot be completed with the information and tools available, and state why.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string"},
				},
				"required": []string{"reason"},
			},
		},
	}
}

// Dispatcher routes tool calls to either a meta-tool handler or the
// capability backend, and appends the resulting conversation turns in the
// shape each provider dialect expects.
type Dispatcher struct {
	backend     capability.Backend
	skipCLIAuth bool
	schemaCache map[string]*jsonschema.Schema
	logger      *observability.Logger
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithLogger attaches a logger; the default is silent.
func WithLogger(logger *observability.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New constructs a Dispatcher. skipCLIAuth mirrors the SKIP_CLI_AUTH
// environment variable the source system reads directly; callers resolve
// it once at startup via config rather than re-reading the environment on
// every tool call.
func New(backend capability.Backend, skipCLIAuth bool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:     backend,
		skipCLIAuth: skipCLIAuth,
		schemaCache: make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Outcome is what Dispatch returns: the textual content to report back to
// the model, and the conversation turns to append before the Step
// Executor's next model call.
type Outcome struct {
	ResultContent string
	AppendMessages []providers.Message
}

// Dispatch handles one ToolCall emitted by the Step Executor's most recent
// model response. assistantContent is the full assistant message (minus
// ToolResults) that produced the call; it is echoed back into the
// conversation ahead of the tool result per CORE SPEC §4.2's exact
// message-append rules.
func (d *Dispatcher) Dispatch(ctx context.Context, call providers.ToolCall, assistantContent providers.Message, st *state.State) (Outcome, error) {
	var resultContent string

	switch call.Name {
	case toolReferenceOutput:
		resultContent = d.handleReferenceToolOutput(call, st)
	case toolGetPreviousStepResult:
		resultContent = d.handleGetPreviousStepResult(call, st)
	case toolSignalInsufficientCtx:
		resultContent = handleSignalInsufficientContext(call)
	default:
		var err error
		resultContent, err = d.handleStandardTool(ctx, call, st)
		if err != nil {
			return Outcome{}, err
		}
		if recordErr := st.RecordToolResult(call.ID, call.Name, resultContent); recordErr != nil {
			return Outcome{}, taskerr.NewStateViolation("tool_id uniqueness", recordErr.Error())
		}
	}

	return Outcome{
		ResultContent:  resultContent,
		AppendMessages: appendMessages(call, assistantContent, resultContent, st.Provider),
	}, nil
}

// appendMessages reproduces _create_tool_response's exact per-dialect
// message shapes: Anthropic echoes the full assistant turn then a
// tool_result-bearing user turn; OpenAI emits a tool_calls-bearing
// assistant turn (content always nil) then a separate "tool" role turn.
// Both dialects fold down to the same normalized providers.Message shape
// here; the dialect adapters translate it back to wire format.
func appendMessages(call providers.ToolCall, assistantContent providers.Message, resultContent string, provider state.Provider) []providers.Message {
	assistant := assistantContent
	assistant.Role = providers.RoleAssistant
	if provider == state.ProviderOpenAI {
		// OpenAI's content is null on a tool-call turn; keep only the call.
		assistant.Content = ""
		assistant.ToolCalls = []providers.ToolCall{call}
	} else if !containsToolCall(assistant.ToolCalls, call.ID) {
		assistant.ToolCalls = append(assistant.ToolCalls, call)
	}

	return []providers.Message{
		assistant,
		{
			Role:        providers.RoleTool,
			ToolResults: []providers.ToolResult{{ToolCallID: call.ID, Content: resultContent}},
		},
	}
}

func containsToolCall(calls []providers.ToolCall, id string) bool {
	for _, c := range calls {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handleReferenceToolOutput(call providers.ToolCall, st *state.State) string {
	referencedID, _ := call.Arguments["tool_id"].(string)
	record, ok := st.ToolResults[referencedID]
	if !ok {
		return fmt.Sprintf("Error: No tool result found with ID '%s'", referencedID)
	}

	content := record.RawResult
	if extractPath, _ := call.Arguments["extract_path"].(string); extractPath != "" {
		extracted, err := extractJSONPath(content, extractPath)
		if err != nil {
			return fmt.Sprintf("Error: could not extract path '%s': %v", extractPath, err)
		}
		content = extracted
	}
	return content
}

func (d *Dispatcher) handleGetPreviousStepResult(call providers.ToolCall, st *state.State) string {
	stepNumber, ok := toInt(call.Arguments["step_number"])
	if !ok || stepNumber < 1 {
		return "Error: Invalid step number. Please provide a step number >= 1."
	}

	index := stepNumber - 1
	if index >= len(st.PastResults) {
		return fmt.Sprintf("Error: No raw result found for step %d. Available steps: 1-%d", stepNumber, len(st.PastResults))
	}

	result := st.PastResults[index]
	return fmt.Sprintf("Step %d (%s):\n%s", stepNumber, result.Step, joinFinalText(result.FinalText))
}

func handleSignalInsufficientContext(call providers.ToolCall) string {
	reason, _ := call.Arguments["reason"].(string)
	if reason == "" {
		return "Error: No reason provided for insufficient context"
	}
	return fmt.Sprintf("STEP_FAILED_INSUFFICIENT_CONTEXT: %s", reason)
}

func (d *Dispatcher) handleStandardTool(ctx context.Context, call providers.ToolCall, st *state.State) (string, error) {
	auth, err := d.backend.Authorize(ctx, call.Name, st.UserID)
	if err != nil {
		return "", taskerr.NewToolAuthError(call.Name, err)
	}

	if auth.Status != capability.AuthCompleted {
		if d.skipCLIAuth {
			return fmt.Sprintf("Unable to call %s because it requires authorization. Please authorize it manually outside of this program.", call.Name), nil
		}
		if err := d.backend.WaitForAuthorization(ctx, auth); err != nil {
			return "", taskerr.NewToolAuthError(call.Name, err)
		}
	}

	if schema, err := d.schemaFor(st, call.Name); err == nil && schema != nil {
		if err := schema.Validate(call.Arguments); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err), nil
		}
	}

	exec, err := d.backend.Execute(ctx, call.Name, call.Arguments, st.UserID)
	if err != nil {
		return "", taskerr.NewToolExecutionError(call.Name, err)
	}

	if d.logger != nil {
		d.logger.Debug(ctx, "tool executed", "tool", call.Name, "success", exec.Success)
	}

	if !exec.Success {
		if exec.Error != "" {
			return fmt.Sprintf("Error: %s", exec.Error), nil
		}
		return fmt.Sprintf("Tool execution failed with status: %s", exec.Status), nil
	}

	return stringifyValue(exec.Value), nil
}

// schemaFor compiles (and caches) the JSON Schema for a tool's parameters
// from the task's cached catalog, so repeated calls in one step don't
// recompile it. A tool absent from the catalog is validated leniently —
// the capability backend is the final authority on argument shape.
func (d *Dispatcher) schemaFor(st *state.State, toolName string) (*jsonschema.Schema, error) {
	if cached, ok := d.schemaCache[toolName]; ok {
		return cached, nil
	}

	for _, entry := range st.Tools {
		if entry.Name != toolName || len(entry.Parameters) == 0 {
			continue
		}
		schema, err := jsonschema.CompileString(toolName+".schema.json", string(entry.Parameters))
		if err != nil {
			return nil, err
		}
		d.schemaCache[toolName] = schema
		return schema, nil
	}
	return nil, nil
}

func stringifyValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func joinFinalText(parts []string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += "\n"
		}
		out += part
	}
	return out
}

// SkipCLIAuthFromEnv reads the SKIP_CLI_AUTH environment variable the
// source system gates interactive authorization on, for callers (internal
// config) that wire it into New at startup rather than per call.
func SkipCLIAuthFromEnv() bool {
	return os.Getenv("SKIP_CLI_AUTH") != ""
}
