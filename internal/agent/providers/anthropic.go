// Package providers implements the agent.LLMProvider contract against
// concrete chat-completion APIs: Anthropic's Messages API (this file) and
// OpenAI's Chat Completions API (openai.go). Both are opaque streaming
// endpoints from the core's point of view; only this package knows their
// wire formats.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/pkg/models"
)

// AnthropicProvider implements agent.LLMProvider against Claude's
// streaming Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider bound to apiKey. baseURL
// overrides the default endpoint when non-empty (used for proxies).
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// ExecChatStream issues a streaming Messages.New call and translates
// Anthropic's SSE event stream into agent.StreamEvent values.
func (p *AnthropicProvider) ExecChatStream(ctx context.Context, model string, req agent.ChatRequest) (<-chan agent.StreamEvent, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(req.Options.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.Options.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.Options.ThinkingBudget))
	}

	reqOpts := []option.RequestOption{}
	if req.Options.BearerToken != "" {
		reqOpts = append(reqOpts, option.WithHeader("Authorization", "Bearer "+req.Options.BearerToken))
	}
	for k, v := range req.Options.ExtraHeaders {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}

	stream := p.client.Messages.NewStreaming(ctx, params, reqOpts...)
	events := make(chan agent.StreamEvent, 8)
	go processAnthropicStream(stream, events, req.Options)
	return events, nil
}

func processAnthropicStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, events chan<- agent.StreamEvent, opts agent.RequestOptions) {
	defer close(events)
	events <- agent.StreamEvent{Kind: agent.StreamStart}

	var usage models.Usage
	var toolID, toolName string
	var toolInput strings.Builder
	haveToolCall := false

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.ContextTokens = int64(start.Message.Usage.InputTokens)
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolID = toolUse.ID
				toolName = toolUse.Name
				toolInput.Reset()
				haveToolCall = true
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					events <- agent.StreamEvent{Kind: agent.StreamChunk, Content: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					events <- agent.StreamEvent{Kind: agent.StreamReasoningChunk, Content: delta.Thinking}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if haveToolCall {
				events <- agent.StreamEvent{
					Kind:         agent.StreamToolCallChunk,
					ToolCallID:   toolID,
					ToolCallName: toolName,
					ToolCallArgs: json.RawMessage(toolInput.String()),
				}
				haveToolCall = false
			}
		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int64(delta.Usage.OutputTokens)
			}
			usage.CacheCreationTokens = int64(delta.Usage.CacheCreationInputTokens)
			usage.CacheReadTokens = int64(delta.Usage.CacheReadInputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		events <- agent.StreamEvent{Kind: agent.StreamEnd, Err: fmt.Errorf("anthropic: stream: %w", err)}
		return
	}
	events <- agent.StreamEvent{Kind: agent.StreamEnd, Usage: usage}
}

func convertMessages(messages []agent.ChatMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Kind {
			case agent.PartText:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case agent.PartToolUse:
				var input any
				if len(part.ToolParams) > 0 {
					if err := json.Unmarshal(part.ToolParams, &input); err != nil {
						return nil, fmt.Errorf("tool_use params for %s: %w", part.ToolCallID, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCallID, input, part.ToolName))
			case agent.PartToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolCallID, part.ToolResultContent, part.ToolResultIsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch msg.Role {
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(blocks...))
		case models.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func convertTools(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}
