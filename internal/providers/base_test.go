package providers

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AIAtrium/mcp-assistant/internal/observability"
)

func TestTraceGenerationRequiresSessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Format: "json", Output: &buf})
	b := newBaseAdapter("anthropic", 1, 0, logger)

	b.traceGeneration(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, "claude-sonnet-4-20250514", Usage{})

	assert.Empty(t, buf.String(), "no session ID should emit no trace")
}

func TestTraceGenerationRequiresLogger(t *testing.T) {
	b := newBaseAdapter("anthropic", 1, 0, nil)
	// must not panic with a nil logger
	b.traceGeneration(context.Background(), &Request{SessionID: "sess-1"}, "model", Usage{})
}

func TestTraceGenerationEmitsWithSessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Format: "json", Output: &buf})
	b := newBaseAdapter("openai", 1, 0, logger)

	req := &Request{
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		SessionID: "sess-1",
		UserID:    "user-1",
	}
	b.traceGeneration(context.Background(), req, "gpt-4.1", Usage{InputTokens: 10, OutputTokens: 5})

	output := buf.String()
	assert.Contains(t, output, "generation trace")
	assert.Contains(t, output, "sess-1")
	assert.Contains(t, output, "user-1")
	assert.Contains(t, output, "gpt-4.1")
}
