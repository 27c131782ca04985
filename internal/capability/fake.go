package capability

import (
	"context"
	"fmt"
	"sync"
)

// FakeBackend is an in-memory Backend used by tests that exercise the Tool
// Dispatcher without a real capability backend. Tools, their auth status,
// and their canned results are all configured up front.
type FakeBackend struct {
	mu sync.Mutex

	Tools        []CatalogEntry
	AuthStatus   map[string]AuthStatus
	Results      map[string]ExecuteResult
	Calls        []FakeCall
	ListToolsErr error
}

// FakeCall records one Execute invocation for assertions in tests.
type FakeCall struct {
	ToolName string
	Input    map[string]any
	UserID   string
}

// NewFakeBackend builds a FakeBackend where every listed tool is already
// authorized, to keep the common test path short.
func NewFakeBackend(tools []CatalogEntry) *FakeBackend {
	status := make(map[string]AuthStatus, len(tools))
	for _, tool := range tools {
		status[tool.Name] = AuthCompleted
	}
	return &FakeBackend{
		Tools:      tools,
		AuthStatus: status,
		Results:    make(map[string]ExecuteResult),
	}
}

func (f *FakeBackend) ListTools(ctx context.Context, userID string) ([]CatalogEntry, error) {
	if f.ListToolsErr != nil {
		return nil, f.ListToolsErr
	}
	return f.Tools, nil
}

func (f *FakeBackend) Authorize(ctx context.Context, toolName, userID string) (AuthResult, error) {
	status, ok := f.AuthStatus[toolName]
	if !ok {
		status = AuthCompleted
	}
	if status == AuthCompleted {
		return AuthResult{Status: AuthCompleted}, nil
	}
	return AuthResult{Status: AuthPending, URL: fmt.Sprintf("https://auth.example/%s", toolName)}, nil
}

func (f *FakeBackend) WaitForAuthorization(ctx context.Context, result AuthResult) error {
	return nil
}

func (f *FakeBackend) Execute(ctx context.Context, toolName string, input map[string]any, userID string) (ExecuteResult, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, FakeCall{ToolName: toolName, Input: input, UserID: userID})
	f.mu.Unlock()

	if result, ok := f.Results[toolName]; ok {
		return result, nil
	}
	return ExecuteResult{Success: true, Value: "ok"}, nil
}
