// Package taskerr implements the task agent's error taxonomy: the six
// categories of failure a task invocation can hit, and how each one is
// meant to propagate (or not) out of the components that can raise it.
package taskerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for conditions that don't need structured context.
var (
	// ErrUnsupportedProvider indicates the configured model provider name
	// does not match any known dialect.
	ErrUnsupportedProvider = errors.New("unsupported model provider")

	// ErrMissingCredentials indicates the selected provider has no API key.
	ErrMissingCredentials = errors.New("missing provider credentials")

	// ErrMissingToolBackendKey indicates no capability backend key is configured.
	ErrMissingToolBackendKey = errors.New("missing tool backend key")

	// ErrIterationCapReached marks the orchestrator's forced-terminal path
	// distinctly from a StateViolation; it is not itself fatal.
	ErrIterationCapReached = errors.New("iteration cap reached")
)

// ConfigurationError is level 1 of the taxonomy: fatal, raised before or
// outside of any single task's step loop. Missing credentials, an
// unsupported provider, or an uninitialized client all take this shape.
type ConfigurationError struct {
	Component string
	Cause     error
}

func (e *ConfigurationError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %v", e.Component, e.Cause)
	}
	return fmt.Sprintf("configuration error: %v", e.Cause)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// NewConfigurationError builds a ConfigurationError attributed to component.
func NewConfigurationError(component string, cause error) *ConfigurationError {
	return &ConfigurationError{Component: component, Cause: cause}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ProviderErrorKind classifies a ProviderError for logging and metrics; it
// does not change propagation policy, which is always step-fatal.
type ProviderErrorKind string

const (
	ProviderErrorTransport ProviderErrorKind = "transport"
	ProviderErrorRateLimit ProviderErrorKind = "rate_limit"
	ProviderErrorServer    ProviderErrorKind = "server"
	ProviderErrorUnknown   ProviderErrorKind = "unknown"
)

// ProviderError is level 2: a transport or 5xx failure from a model
// provider during a single call. It is step-fatal — the Step Executor
// lets it propagate to the Orchestrator, which records the step as failed
// via the Summarizer rather than crashing the task.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s error (%s): %v", e.Provider, e.Kind, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError classifies cause and wraps it as a ProviderError.
func NewProviderError(provider string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: classifyProviderError(cause), Cause: cause}
}

func classifyProviderError(err error) ProviderErrorKind {
	if err == nil {
		return ProviderErrorUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ProviderErrorRateLimit
	case strings.Contains(msg, "5") && (strings.Contains(msg, "status") || strings.Contains(msg, "code")):
		return ProviderErrorServer
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline") || strings.Contains(msg, "dial"):
		return ProviderErrorTransport
	default:
		return ProviderErrorUnknown
	}
}

// IsProviderError reports whether err is or wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ToolErrorKind distinguishes the two step-level tool failure modes from
// CORE SPEC §7: authorization failures and execution failures. Both render
// to a tool-result string; this kind only affects logging/metrics labels.
type ToolErrorKind string

const (
	ToolErrorAuth      ToolErrorKind = "auth"
	ToolErrorExecution ToolErrorKind = "execution"
)

// ToolError is levels 3-4: ToolAuthError and ToolExecutionError. Both are
// step-level — the Tool Dispatcher converts them into an observation string
// the model sees, and a ToolError must never cross the Tool Dispatcher
// boundary as a Go error.
type ToolError struct {
	Kind     ToolErrorKind
	ToolName string
	Cause    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error [%s] %s: %v", e.Kind, e.ToolName, e.Cause)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolAuthError builds a ToolAuthError for toolName.
func NewToolAuthError(toolName string, cause error) *ToolError {
	return &ToolError{Kind: ToolErrorAuth, ToolName: toolName, Cause: cause}
}

// NewToolExecutionError builds a ToolExecutionError for toolName.
func NewToolExecutionError(toolName string, cause error) *ToolError {
	return &ToolError{Kind: ToolErrorExecution, ToolName: toolName, Cause: cause}
}

// IsToolError reports whether err is or wraps a ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// ParseError is level 5: the model failed to emit the expected tool-call
// shape. It is always recovered by the Planner's fallback parser chain, so
// it never needs to propagate beyond internal/planner; it exists as a type
// so the fallback chain can log which strategies were tried.
type ParseError struct {
	Strategy string
	Cause    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in strategy %q: %v", e.Strategy, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// StateViolation is level 6: a bug, not a runtime condition. It indicates
// one of the §3 invariants was violated (e.g. past_steps/past_results
// length mismatch, a duplicate tool_id). It is fatal and halts the task.
type StateViolation struct {
	Invariant string
	Detail    string
}

func (e *StateViolation) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("state invariant violated (%s): %s", e.Invariant, e.Detail)
	}
	return fmt.Sprintf("state invariant violated: %s", e.Invariant)
}

// NewStateViolation builds a StateViolation naming the broken invariant.
func NewStateViolation(invariant, detail string) *StateViolation {
	return &StateViolation{Invariant: invariant, Detail: detail}
}

// IsStateViolation reports whether err is or wraps a StateViolation.
func IsStateViolation(err error) bool {
	var sv *StateViolation
	return errors.As(err, &sv)
}

// IsFatal reports whether err should halt the task rather than be absorbed
// as a step-level observation. Only ConfigurationError and StateViolation
// are fatal per the propagation policy in CORE SPEC §7.
func IsFatal(err error) bool {
	return IsConfigurationError(err) || IsStateViolation(err)
}

// IsRetryable reports whether re-running the same task invocation from
// scratch stands a chance of succeeding. Only ProviderError qualifies —
// ToolError and ParseError are already absorbed before they reach a
// caller, and ConfigurationError/StateViolation need a fix, not a retry.
func IsRetryable(err error) bool {
	return IsProviderError(err)
}
