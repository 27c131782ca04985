package providers

import (
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/AIAtrium/mcp-assistant/internal/taskerr"
)

// isRetryableAnthropicError reports whether err is worth another attempt:
// rate limits and 5xx-class server errors, not malformed-request errors.
func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return isRetryableTransport(err)
}

// classifyAnthropicError wraps a terminal Anthropic SDK error as a
// *taskerr.ProviderError so the Step Executor can treat it uniformly
// regardless of which dialect raised it.
func classifyAnthropicError(err error) error {
	return taskerr.NewProviderError("anthropic", err)
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return isRetryableTransport(err)
}

func classifyOpenAIError(err error) error {
	return taskerr.NewProviderError("openai", err)
}

func isRetryableTransport(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "deadline", "connection", "dial", "eof", "reset by peer"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
