package agent

import (
	"context"
	"encoding/json"

	"github.com/tcdent/codey/pkg/models"
)

// ContentPartKind discriminates a ChatMessage's content parts: plain text,
// a tool-use request the model made, or the tool-response fed back to it.
type ContentPartKind string

const (
	PartText       ContentPartKind = "text"
	PartThinking   ContentPartKind = "thinking"
	PartToolUse    ContentPartKind = "tool_use"
	PartToolResult ContentPartKind = "tool_result"
)

// ContentPart is one element of a ChatMessage's content: Text, ToolUse,
// or ToolResultContent.
type ContentPart struct {
	Kind ContentPartKind

	Text string

	ToolCallID string
	ToolName   string
	ToolParams json.RawMessage

	ToolResultContent string
	ToolResultIsError bool
}

// ChatMessage is a provider-shaped message in an Agent's growing
// conversation: system, user, assistant, or tool-response, carrying
// ordered content parts.
type ChatMessage struct {
	Role  models.Role
	Parts []ContentPart
}

// RequestOptions carries the per-request shaping knobs passed alongside a
// ChatRequest: token budget, capture flags, thinking budget, extra
// headers, and the bearer token to attach.
type RequestOptions struct {
	MaxTokens        int
	ThinkingBudget   int
	CaptureUsage     bool
	CaptureThinking  bool
	CaptureToolCalls bool
	ExtraHeaders     map[string]string
	BearerToken      string
	// CacheHint marks the last message as a prompt-caching breakpoint.
	CacheHint bool
}

// ChatRequest is the request shape the LLMProvider.ExecChatStream contract
// consumes.
type ChatRequest struct {
	Model    string
	System   string
	Messages []ChatMessage
	Tools    []ToolDefinition
	Options  RequestOptions
}

// StreamEventKind discriminates the events an LLMProvider streams back:
// Start, Chunk, ReasoningChunk, ToolCallChunk, End.
type StreamEventKind string

const (
	StreamStart          StreamEventKind = "start"
	StreamChunk          StreamEventKind = "chunk"
	StreamReasoningChunk StreamEventKind = "reasoning_chunk"
	StreamToolCallChunk  StreamEventKind = "tool_call_chunk"
	StreamEnd            StreamEventKind = "end"
)

// StreamEvent is one value an LLMProvider's stream channel emits.
// ToolCallChunk events are buffered by the Agent until the stream ends;
// tool calls arrive fully formed and are never emitted incrementally.
type StreamEvent struct {
	Kind StreamEventKind

	// Content carries text for Chunk/ReasoningChunk.
	Content string

	// ToolCallID/ToolCallName/ToolCallArgs carry a complete tool call for
	// ToolCallChunk; providers buffer partial JSON internally and only
	// emit once the call is fully assembled.
	ToolCallID   string
	ToolCallName string
	ToolCallArgs json.RawMessage

	// Usage is populated on End when Options.CaptureUsage was set.
	Usage models.Usage

	Err error
}

// LLMProvider is the external chat-completion collaborator. A single
// ExecChatStream call returns a channel of StreamEvent values terminated
// by either a StreamEnd event or a channel close after an error event.
type LLMProvider interface {
	Name() string
	ExecChatStream(ctx context.Context, model string, req ChatRequest) (<-chan StreamEvent, error)
}

// IsRetryable reports whether err (as surfaced on a StreamEvent or
// returned directly from ExecChatStream) represents a transient failure
// the Agent should retry, versus a fatal one.
type RetryableError interface {
	Retryable() bool
}
