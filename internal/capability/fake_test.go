package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeBackendAuthorizesListedToolsByDefault(t *testing.T) {
	backend := NewFakeBackend([]CatalogEntry{{Name: "list_items"}})

	result, err := backend.Authorize(context.Background(), "list_items", "user-1")
	require.NoError(t, err)
	assert.Equal(t, AuthCompleted, result.Status)
}

func TestFakeBackendReportsPendingAuthWithURL(t *testing.T) {
	backend := NewFakeBackend([]CatalogEntry{{Name: "send_email"}})
	backend.AuthStatus["send_email"] = AuthPending

	result, err := backend.Authorize(context.Background(), "send_email", "user-1")
	require.NoError(t, err)
	assert.Equal(t, AuthPending, result.Status)
	assert.NotEmpty(t, result.URL)
}

func TestFakeBackendRecordsExecuteCalls(t *testing.T) {
	backend := NewFakeBackend([]CatalogEntry{{Name: "list_items"}})
	backend.Results["list_items"] = ExecuteResult{Success: true, Value: []string{"a", "b"}}

	result, err := backend.Execute(context.Background(), "list_items", map[string]any{"q": "x"}, "user-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, backend.Calls, 1)
	assert.Equal(t, "list_items", backend.Calls[0].ToolName)
	assert.Equal(t, "user-1", backend.Calls[0].UserID)
}
