package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AIAtrium/mcp-assistant/internal/observability"
)

// defaultOpenAIModel matches llm_utils.py's DEFAULT_OPENAI_MODEL.
const defaultOpenAIModel = "gpt-4.1"

// OpenAIConfig configures an OpenAIAdapter.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	// Logger, if set, receives the generation trace CORE SPEC §4.1
	// requires when a call's request carries a session identifier.
	Logger *observability.Logger
}

// OpenAIAdapter implements Adapter over OpenAI's chat-completions protocol:
// text lives in Content, tool invocations in a separate ToolCalls field,
// and tool results are their own "tool" role message.
type OpenAIAdapter struct {
	baseAdapter
	client       *openai.Client
	defaultModel string
}

// NewOpenAIAdapter validates cfg and constructs an OpenAIAdapter.
func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIAdapter{
		baseAdapter:  newBaseAdapter("openai", cfg.MaxRetries, cfg.RetryDelay, cfg.Logger),
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

// Name implements Adapter.
func (a *OpenAIAdapter) Name() string { return "openai" }

// CreateMessage implements Adapter over a single, non-streaming
// CreateChatCompletion call.
func (a *OpenAIAdapter) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	messages, err := openaiMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    a.model(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	// tool_choice is only meaningful when tools are offered; omitting it
	// entirely for a tool-less call avoids an OpenAI 400 on some models.
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	var completion openai.ChatCompletionResponse
	callErr := a.retry(ctx, isRetryableOpenAIError, func() error {
		var err error
		completion, err = a.client.CreateChatCompletion(ctx, chatReq)
		return err
	})
	if callErr != nil {
		return nil, classifyOpenAIError(callErr)
	}

	resp := openaiResponse(completion)
	a.traceGeneration(ctx, req, a.model(req.Model), resp.Usage)
	return resp, nil
}

func (a *OpenAIAdapter) model(override string) string {
	if override != "" {
		return override
	}
	return a.defaultModel
}

func openaiMessages(messages []Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == RoleTool || len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				}
			}
		}

		result = append(result, oaiMsg)
	}

	return result, nil
}

func openaiTools(tools []Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}

func openaiResponse(completion openai.ChatCompletionResponse) *Response {
	resp := &Response{}
	if len(completion.Choices) == 0 {
		return resp
	}

	message := completion.Choices[0].Message
	if message.Content != "" {
		resp.TextBlocks = append(resp.TextBlocks, message.Content)
	}

	for _, tc := range message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	resp.Usage = Usage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}

	return resp
}
