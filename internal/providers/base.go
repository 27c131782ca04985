package providers

import (
	"context"
	"time"

	"github.com/AIAtrium/mcp-assistant/internal/observability"
)

// baseAdapter holds retry configuration shared by both dialect
// implementations, adapted directly from the teacher's BaseProvider.
type baseAdapter struct {
	name       string
	maxRetries int
	retryDelay time.Duration
	logger     *observability.Logger
}

func newBaseAdapter(name string, maxRetries int, retryDelay time.Duration, logger *observability.Logger) baseAdapter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return baseAdapter{name: name, maxRetries: maxRetries, retryDelay: retryDelay, logger: logger}
}

// traceGeneration emits the CORE SPEC §4.1 generation trace event: input
// message count, model, usage, and session/user identifiers. It is a
// no-op unless both a logger is configured and the request carries a
// session identifier — a task run with no session never does tracing I/O.
func (b *baseAdapter) traceGeneration(ctx context.Context, req *Request, model string, usage Usage) {
	if b.logger == nil || req.SessionID == "" {
		return
	}
	b.logger.Info(ctx, "generation trace",
		"provider", b.name,
		"model", model,
		"session_id", req.SessionID,
		"user_id", req.UserID,
		"input_messages", len(req.Messages),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
}

// retry executes op with linear backoff while isRetryable(err) holds.
// CORE SPEC §5 requires 429-class errors to surface as tool-result errors
// rather than being retried transparently by the Tool Dispatcher — that
// rule is about the capability backend, not the model provider; provider
// transport errors retry here because CORE SPEC §4.1 only classifies them
// as "recoverable", leaving the retry policy to the implementation.
func (b *baseAdapter) retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
