package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider against the Chat Completions
// streaming API, proving the provider abstraction is vendor-agnostic: the
// interface describes ExecChatStream purely in terms of messages/options/
// events, never an Anthropic-specific shape.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider bound to apiKey. baseURL overrides
// the default endpoint when non-empty.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(cfg)
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) ExecChatStream(ctx context.Context, model string, req agent.ChatRequest) (<-chan agent.StreamEvent, error) {
	messages, err := convertOpenAIMessages(req.System, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.Options.MaxTokens > 0 {
		chatReq.MaxTokens = req.Options.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}

	events := make(chan agent.StreamEvent, 8)
	go processOpenAIStream(stream, events)
	return events, nil
}

type openAIToolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func processOpenAIStream(stream *openai.ChatCompletionStream, events chan<- agent.StreamEvent) {
	defer stream.Close()
	defer close(events)
	events <- agent.StreamEvent{Kind: agent.StreamStart}

	calls := map[int]*openAIToolCallAccumulator{}
	var usage models.Usage

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			events <- agent.StreamEvent{Kind: agent.StreamEnd, Err: fmt.Errorf("openai: recv: %w", err)}
			return
		}
		if chunk.Usage != nil {
			usage.ContextTokens = int64(chunk.Usage.PromptTokens)
			usage.OutputTokens = int64(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			events <- agent.StreamEvent{Kind: agent.StreamChunk, Content: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &openAIToolCallAccumulator{}
				calls[idx] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
			}
		}
		if chunk.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			for _, acc := range calls {
				events <- agent.StreamEvent{
					Kind:         agent.StreamToolCallChunk,
					ToolCallID:   acc.id,
					ToolCallName: acc.name,
					ToolCallArgs: json.RawMessage(acc.args.String()),
				}
			}
			calls = map[int]*openAIToolCallAccumulator{}
		}
	}
	events <- agent.StreamEvent{Kind: agent.StreamEnd, Usage: usage}
}

func convertOpenAIMessages(system string, messages []agent.ChatMessage) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		var text string
		var toolCalls []openai.ToolCall
		for _, part := range msg.Parts {
			switch part.Kind {
			case agent.PartText:
				text += part.Text
			case agent.PartToolUse:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   part.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      part.ToolName,
						Arguments: string(part.ToolParams),
					},
				})
			case agent.PartToolResult:
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    part.ToolResultContent,
					ToolCallID: part.ToolCallID,
				})
			}
		}
		if text != "" || len(toolCalls) > 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:      role,
				Content:   text,
				ToolCalls: toolCalls,
			})
		}
	}
	return result, nil
}

func convertOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var params map[string]any
		_ = json.Unmarshal(tool.Schema, &params)
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}
