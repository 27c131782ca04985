package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AIAtrium/mcp-assistant/internal/observability"
)

// defaultAnthropicModel matches llm_utils.py's DEFAULT_ANTHROPIC_MODEL.
const defaultAnthropicModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// AnthropicConfig configures an AnthropicAdapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	// Logger, if set, receives the generation trace CORE SPEC §4.1
	// requires when a call's request carries a session identifier.
	Logger *observability.Logger
}

// AnthropicAdapter implements Adapter over Anthropic's content-block
// protocol: every message is an ordered array of text/tool_use/tool_result
// blocks rather than OpenAI's separate content/tool_calls fields.
type AnthropicAdapter struct {
	baseAdapter
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicAdapter validates cfg and constructs an AnthropicAdapter.
// A missing APIKey is a configuration error, not a provider error, since it
// can never be resolved by retrying.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key")
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	return &AnthropicAdapter{
		baseAdapter:  newBaseAdapter("anthropic", cfg.MaxRetries, cfg.RetryDelay, cfg.Logger),
		client:       anthropic.NewClient(options...),
		defaultModel: model,
	}, nil
}

// Name implements Adapter.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// CreateMessage implements Adapter over a single, non-streaming
// Messages.New call. CORE SPEC §4.1 only requires one complete response per
// Step Executor turn, so no SSE handling is needed.
func (a *AnthropicAdapter) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	var msg *anthropic.Message
	callErr := a.retry(ctx, isRetryableAnthropicError, func() error {
		var err error
		msg, err = a.client.Messages.New(ctx, params)
		return err
	})
	if callErr != nil {
		return nil, classifyAnthropicError(callErr)
	}

	resp := anthropicResponse(msg)
	a.traceGeneration(ctx, req, a.model(req.Model), resp.Usage)
	return resp, nil
}

func (a *AnthropicAdapter) model(override string) string {
	if override != "" {
		return override
	}
	return a.defaultModel
}

func anthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}

		for _, tc := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// Tool results travel back to the model as a user-role message
			// in Anthropic's protocol; there is no separate "tool" role.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func anthropicTools(tools []Tool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := tool.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := tool.Parameters["required"].([]string); ok {
			schema.Required = required
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, param)
	}

	return result, nil
}

func anthropicResponse(msg *anthropic.Message) *Response {
	resp := &Response{}

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.TextBlocks = append(resp.TextBlocks, variant.Text)
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(variant.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}

	resp.Usage = Usage{
		InputTokens:      int(msg.Usage.InputTokens),
		OutputTokens:     int(msg.Usage.OutputTokens),
		CacheReadInput:   int(msg.Usage.CacheReadInputTokens),
		HasCacheReadInfo: msg.Usage.CacheReadInputTokens > 0,
	}

	return resp
}
