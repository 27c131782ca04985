// Package capability defines the Tool Dispatcher's one external
// collaborator: the backend that knows how to authorize and execute
// standard (non meta-tool) tool calls on a user's behalf. CORE SPEC §1
// treats this backend as out of scope, so it is modeled here purely as an
// interface — nothing in this package talks to a real network service.
package capability

import "context"

// AuthStatus mirrors the status values the backend reports from an
// authorization attempt.
type AuthStatus string

const (
	AuthCompleted AuthStatus = "completed"
	AuthPending   AuthStatus = "pending"
)

// AuthResult is the outcome of an Authorize call.
type AuthResult struct {
	Status AuthStatus
	// URL is where a human can complete authorization out of band, set
	// only when Status is AuthPending.
	URL string
}

// ExecuteResult is the outcome of an Execute call.
type ExecuteResult struct {
	Success bool
	// Status describes a non-success outcome that isn't an error, e.g.
	// "failed" or "timed_out".
	Status string
	// Value is the tool's JSON-decoded return value when Success and no
	// Error is set. Callers that need a string re-encode it themselves,
	// matching the source system's "stringify only if not already a
	// string" rule.
	Value any
	// Error is set when the backend ran the tool but it failed internally.
	Error string
}

// CatalogEntry describes one tool available to a user, as returned by
// ListTools. This is the source for state.ToolCatalogEntry.
type CatalogEntry struct {
	Name        string
	Description string
	Parameters  []byte
}

// Backend is the capability backend surface the Tool Dispatcher depends
// on: list the tools available to a user, authorize a tool for that user,
// and execute it. Implementations are expected to be per-user-scoped at
// the call level, not pre-bound to one user.
type Backend interface {
	ListTools(ctx context.Context, userID string) ([]CatalogEntry, error)
	Authorize(ctx context.Context, toolName, userID string) (AuthResult, error)
	Execute(ctx context.Context, toolName string, input map[string]any, userID string) (ExecuteResult, error)
	// WaitForAuthorization blocks until a pending authorization (returned
	// from Authorize) completes. Only called when SkipCLIAuth is false.
	WaitForAuthorization(ctx context.Context, result AuthResult) error
}
