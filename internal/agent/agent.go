package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tcdent/codey/internal/auth"
	"github.com/tcdent/codey/internal/backoff"
	"github.com/tcdent/codey/internal/observability"
	"github.com/tcdent/codey/internal/transcript"
	"github.com/tcdent/codey/pkg/models"
)

// State is the Agent's state-machine variable.
type State string

const (
	StateNone                State = "none"
	StateNeedsChatRequest    State = "needs_chat_request"
	StateStreaming           State = "streaming"
	StateAwaitingToolDecision State = "awaiting_tool_decision"
)

var (
	// ErrAgentBusy is returned by SendRequest when the Agent isn't idle.
	ErrAgentBusy = errors.New("agent: busy, not idle")
	// ErrNotAwaitingToolDecision is returned by SubmitToolResult outside
	// AwaitingToolDecision, rather than logging and mutating buffers
	// anyway.
	ErrNotAwaitingToolDecision = errors.New("agent: not awaiting a tool decision")
	// ErrUnknownToolCall is returned by SubmitToolResult for a call_id
	// that isn't part of the current batch.
	ErrUnknownToolCall = errors.New("agent: unknown tool call id")
	// ErrDuplicateToolResult is returned when a call_id already has a
	// submitted result.
	ErrDuplicateToolResult = errors.New("agent: tool result already submitted")
)

// StepKind discriminates the Step values Next returns: TextDelta,
// ThinkingDelta, CompactionDelta, ToolRequest, Retrying, Finished, Error,
// plus StepNone for "nothing to report".
type StepKind string

const (
	StepNone            StepKind = "none"
	StepTextDelta       StepKind = "text_delta"
	StepThinkingDelta   StepKind = "thinking_delta"
	StepCompactionDelta StepKind = "compaction_delta"
	StepToolRequest     StepKind = "tool_request"
	StepRetrying        StepKind = "retrying"
	StepFinished        StepKind = "finished"
	StepError           StepKind = "error"
)

// Step is the value one call to Agent.Next returns.
type Step struct {
	Kind      StepKind
	Text      string
	ToolCalls []models.ToolCall
	Attempt   int
	Usage     models.Usage
	Err       error
}

// toolResponse is a buffered result awaiting assembly into messages once
// every pending call has answered.
type toolResponse struct {
	content string
	isError bool
}

// Agent is a single streaming LLM conversation: its message history, a
// system prompt, usage accounting, and its state machine. Exclusive
// ownership: nothing outside the Agent mutates its message list; the
// Registry provides the mutual exclusion that makes concurrent polling
// across agents safe.
type Agent struct {
	// mu is acquired by the Registry around each Next call, giving
	// concurrent agents independent exclusive polling.
	mu sync.Mutex

	id           int
	systemPrompt string
	provider     LLMProvider
	registry     *ToolRegistry
	authMgr      *auth.Manager
	cfg          models.AgentRuntimeConfig
	backoffPolicy backoff.BackoffPolicy

	messages []ChatMessage
	usage    models.Usage

	state State
	mode  models.RequestMode

	activeStream <-chan StreamEvent

	textBuf     strings.Builder
	thinkingBuf strings.Builder
	pendingCalls []models.ToolCall
	toolResponses map[string]toolResponse

	retryAttempt int

	// tracer/metrics are the optional observability collaborators,
	// wrapping each chat-completion round trip in a span and a
	// latency/token histogram. Both are nil-safe: an Agent built without
	// them behaves exactly as one built with them, minus the telemetry.
	tracer  *observability.Tracer
	metrics *observability.Metrics

	dispatchSpan  oteltrace.Span
	dispatchStart time.Time
}

// Config bundles the construction-time dependencies for an Agent.
type Config struct {
	ID           int
	SystemPrompt string
	Provider     LLMProvider
	Registry     *ToolRegistry
	AuthManager  *auth.Manager
	Runtime      models.AgentRuntimeConfig
	BackoffPolicy backoff.BackoffPolicy

	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// New constructs an idle Agent.
func New(cfg Config) *Agent {
	policy := cfg.BackoffPolicy
	if policy == (backoff.BackoffPolicy{}) {
		policy = backoff.DefaultPolicy()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = EmptyToolRegistry()
	}
	return &Agent{
		id:            cfg.ID,
		systemPrompt:  cfg.SystemPrompt,
		provider:      cfg.Provider,
		registry:      registry,
		authMgr:       cfg.AuthManager,
		cfg:           cfg.Runtime,
		backoffPolicy: policy,
		state:         StateNone,
		toolResponses: map[string]toolResponse{},
		tracer:        cfg.Tracer,
		metrics:       cfg.Metrics,
	}
}

// ID returns the Agent's registry id.
func (a *Agent) ID() int { return a.id }

// State reports the current state-machine value, for inspection without
// touching the active stream.
func (a *Agent) State() State { return a.state }

// Idle reports whether the Agent can accept SendRequest.
func (a *Agent) Idle() bool { return a.state == StateNone }

// TotalUsage returns cumulative session usage.
func (a *Agent) TotalUsage() models.Usage { return a.usage }

// Mode reports the RequestMode of the request currently in flight (or most
// recently finished), so callers can tell a compaction turn's Finished step
// apart from a normal one.
func (a *Agent) Mode() models.RequestMode { return a.mode }

// SendRequest pushes a user message, sets the request mode, and
// transitions to NeedsChatRequest. The caller must only invoke this
// while Idle; this is enforced rather than left as a documented
// caller responsibility.
func (a *Agent) SendRequest(userInput string, mode models.RequestMode) error {
	if a.state != StateNone {
		return ErrAgentBusy
	}
	a.messages = append(a.messages, ChatMessage{
		Role:  models.RoleUser,
		Parts: []ContentPart{{Kind: PartText, Text: userInput}},
	})
	a.mode = mode
	a.retryAttempt = 0
	a.state = StateNeedsChatRequest
	return nil
}

// Cancel drops the active stream and returns the Agent to idle. Any
// partial streamed text is not committed to the message list.
func (a *Agent) Cancel() {
	a.activeStream = nil
	a.clearStreamingBuffers()
	a.state = StateNone
}

// Next advances the state machine one step.
func (a *Agent) Next(ctx context.Context) (Step, error) {
	switch a.state {
	case StateNone, StateAwaitingToolDecision:
		return Step{Kind: StepNone}, nil
	case StateNeedsChatRequest:
		return a.dispatch(ctx)
	case StateStreaming:
		return a.pollStream(ctx)
	default:
		return Step{Kind: StepNone}, nil
	}
}

func (a *Agent) clearStreamingBuffers() {
	a.textBuf.Reset()
	a.thinkingBuf.Reset()
	a.pendingCalls = nil
	a.toolResponses = map[string]toolResponse{}
}

func (a *Agent) dispatch(ctx context.Context) (Step, error) {
	if a.retryAttempt > 0 {
		wait := backoff.ComputeBackoff(a.backoffPolicy, a.retryAttempt)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Step{}, ctx.Err()
		}
	}
	a.clearStreamingBuffers()

	req, err := a.buildRequest(ctx)
	if err != nil {
		a.state = StateNone
		return Step{Kind: StepError, Err: err}, nil
	}

	if a.tracer != nil {
		_, a.dispatchSpan = a.tracer.TraceLLMRequest(ctx, a.provider.Name(), a.cfg.Model)
	}
	a.dispatchStart = time.Now()

	stream, err := a.provider.ExecChatStream(ctx, a.cfg.Model, req)
	if err != nil {
		return a.handleDispatchError(err)
	}
	a.activeStream = stream
	a.state = StateStreaming
	return a.pollStream(ctx)
}

func (a *Agent) handleDispatchError(err error) (Step, error) {
	if !isRetryable(err) || a.retryAttempt+1 > a.cfg.MaxRetries {
		a.endDispatchSpan(err, models.Usage{})
		a.state = StateNone
		return Step{Kind: StepError, Err: err}, nil
	}
	a.endDispatchSpan(err, models.Usage{})
	a.retryAttempt++
	return Step{Kind: StepRetrying, Attempt: a.retryAttempt, Err: err}, nil
}

// endDispatchSpan closes out the tracing span and records the Prometheus
// histogram/counter pair for one completed (successful or not)
// ExecChatStream round trip. Nil-safe: a no-tracer/no-metrics Agent skips
// straight through.
func (a *Agent) endDispatchSpan(err error, usage models.Usage) {
	duration := time.Since(a.dispatchStart).Seconds()
	if a.tracer != nil && a.dispatchSpan != nil {
		if err != nil {
			a.tracer.RecordError(a.dispatchSpan, err)
		}
		a.dispatchSpan.End()
		a.dispatchSpan = nil
	}
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
			a.metrics.RecordError("agent", "dispatch_failed")
		} else if usage.ContextTokens > 0 {
			a.metrics.RecordContextWindow(a.provider.Name(), a.cfg.Model, usage.ContextTokens)
		}
		a.metrics.RecordLLMRequest(a.provider.Name(), a.cfg.Model, status, duration, int(usage.ContextTokens), int(usage.OutputTokens))
	}
}

func (a *Agent) buildRequest(ctx context.Context) (ChatRequest, error) {
	bearer := ""
	if a.authMgr != nil {
		creds, err := a.authMgr.EnsureFresh(ctx)
		if err != nil {
			return ChatRequest{}, err
		}
		token, err := creds.BearerToken()
		if err == nil {
			bearer = token
		}
	}

	var tools []ToolDefinition
	thinkingBudget := a.cfg.ThinkingBudget
	if a.mode == models.ModeCompaction {
		thinkingBudget = a.cfg.CompactionThinkingBudget
	} else if a.registry != nil {
		tools = a.registry.Definitions()
	}

	return ChatRequest{
		Model:    a.cfg.Model,
		System:   a.systemPrompt,
		Messages: append([]ChatMessage(nil), a.messages...),
		Tools:    tools,
		Options: RequestOptions{
			MaxTokens:        a.cfg.MaxTokens,
			ThinkingBudget:   thinkingBudget,
			CaptureUsage:     true,
			CaptureThinking:  thinkingBudget > 0,
			CaptureToolCalls: a.mode == models.ModeNormal,
			CacheHint:        len(a.messages) > 0,
			BearerToken:      bearer,
		},
	}, nil
}

func (a *Agent) pollStream(ctx context.Context) (Step, error) {
	for {
		select {
		case ev, ok := <-a.activeStream:
			if !ok {
				a.state = StateNone
				return Step{Kind: StepError, Err: fmt.Errorf("agent: stream closed without end event")}, nil
			}
			switch ev.Kind {
			case StreamStart:
				continue
			case StreamChunk:
				a.textBuf.WriteString(ev.Content)
				if a.mode == models.ModeCompaction {
					return Step{Kind: StepCompactionDelta, Text: ev.Content}, nil
				}
				return Step{Kind: StepTextDelta, Text: ev.Content}, nil
			case StreamReasoningChunk:
				a.thinkingBuf.WriteString(ev.Content)
				return Step{Kind: StepThinkingDelta, Text: ev.Content}, nil
			case StreamToolCallChunk:
				a.pendingCalls = append(a.pendingCalls, models.ToolCall{
					AgentID:    a.id,
					CallID:     ev.ToolCallID,
					Name:       ev.ToolCallName,
					Params:     ev.ToolCallArgs,
					Decision:   models.DecisionPending,
					Background: backgroundFlag(ev.ToolCallArgs),
				})
				continue
			case StreamEnd:
				return a.finishStream(ev)
			default:
				continue
			}
		case <-ctx.Done():
			return Step{}, ctx.Err()
		}
	}
}

func (a *Agent) finishStream(ev StreamEvent) (Step, error) {
	a.activeStream = nil
	if ev.Err != nil {
		a.endDispatchSpan(ev.Err, ev.Usage)
		if !isRetryable(ev.Err) || a.retryAttempt+1 > a.cfg.MaxRetries {
			a.state = StateNone
			return Step{Kind: StepError, Err: ev.Err}, nil
		}
		a.retryAttempt++
		a.state = StateNeedsChatRequest
		return Step{Kind: StepRetrying, Attempt: a.retryAttempt, Err: ev.Err}, nil
	}
	a.endDispatchSpan(nil, ev.Usage)
	a.usage.Add(ev.Usage)
	a.retryAttempt = 0

	if len(a.pendingCalls) == 0 {
		// Compaction mode's raw text is not committed to history: the
		// Orchestrator parses/renders it into a Summary and calls
		// ResetWithSummary explicitly. Normal mode commits the assistant
		// turn as usual.
		text := a.textBuf.String()
		if a.mode != models.ModeCompaction {
			a.commitAssistantMessage(nil)
		}
		a.state = StateNone
		return Step{Kind: StepFinished, Text: text, Usage: a.usage}, nil
	}

	a.state = StateAwaitingToolDecision
	calls := append([]models.ToolCall(nil), a.pendingCalls...)
	return Step{Kind: StepToolRequest, ToolCalls: calls}, nil
}

// commitAssistantMessage appends the accumulated thinking/text, followed
// by tool-use parts for calls (if any), as a single assistant message.
func (a *Agent) commitAssistantMessage(calls []models.ToolCall) {
	var parts []ContentPart
	if t := a.thinkingBuf.String(); t != "" {
		parts = append(parts, ContentPart{Kind: PartThinking, Text: t})
	}
	if t := a.textBuf.String(); t != "" {
		parts = append(parts, ContentPart{Kind: PartText, Text: t})
	}
	for _, call := range calls {
		parts = append(parts, ContentPart{Kind: PartToolUse, ToolCallID: call.CallID, ToolName: call.Name, ToolParams: call.Params})
	}
	if len(parts) == 0 {
		return
	}
	a.messages = append(a.messages, ChatMessage{Role: models.RoleAssistant, Parts: parts})
}

// SubmitToolResult accumulates one tool's result while AwaitingToolDecision.
// Once every pending call has a result, the Agent commits the assistant
// message (thinking, text, tool-use parts) followed by one tool-response
// message per call, in request order, and transitions back to
// NeedsChatRequest.
func (a *Agent) SubmitToolResult(callID, content string, isError bool) error {
	if a.state != StateAwaitingToolDecision {
		return ErrNotAwaitingToolDecision
	}
	if !a.hasPendingCall(callID) {
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, callID)
	}
	if _, exists := a.toolResponses[callID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateToolResult, callID)
	}
	a.toolResponses[callID] = toolResponse{content: content, isError: isError}
	if len(a.toolResponses) < len(a.pendingCalls) {
		return nil
	}

	a.commitAssistantMessage(a.pendingCalls)
	for _, call := range a.pendingCalls {
		resp := a.toolResponses[call.CallID]
		a.messages = append(a.messages, ChatMessage{
			Role: models.RoleUser,
			Parts: []ContentPart{{
				Kind:              PartToolResult,
				ToolCallID:        call.CallID,
				ToolResultContent: resp.content,
				ToolResultIsError: resp.isError,
			}},
		})
	}
	a.pendingCalls = nil
	a.toolResponses = map[string]toolResponse{}
	a.textBuf.Reset()
	a.thinkingBuf.Reset()
	a.state = StateNeedsChatRequest
	return nil
}

func (a *Agent) hasPendingCall(callID string) bool {
	for _, call := range a.pendingCalls {
		if call.CallID == callID {
			return true
		}
	}
	return false
}

// ResetWithSummary clears all messages except the system prompt, pushes
// summary as a synthetic user message, and zeroes usage.
func (a *Agent) ResetWithSummary(summary string) {
	a.resetWithSummaryLocked(summary)
}

func (a *Agent) resetWithSummaryLocked(summary string) {
	a.messages = []ChatMessage{{Role: models.RoleUser, Parts: []ContentPart{{Kind: PartText, Text: summary}}}}
	a.usage = models.Usage{}
}

// RestoreFromTranscript rebuilds the message list from saved blocks. Only
// tool blocks with a non-empty recorded result are re-emitted; the
// Agent's own system prompt is always preserved.
func (a *Agent) RestoreFromTranscript(t *transcript.Transcript) {
	a.messages = a.messages[:0]
	for _, turn := range t.Turns() {
		var parts []ContentPart
		var resultParts []ContentPart
		for _, block := range turn.Content {
			switch block.Kind() {
			case models.BlockText:
				if block.Text() != "" {
					parts = append(parts, ContentPart{Kind: PartText, Text: block.Text()})
				}
			case models.BlockThinking:
				if block.Text() != "" {
					parts = append(parts, ContentPart{Kind: PartThinking, Text: block.Text()})
				}
			case models.BlockCompaction:
				if block.Text() != "" {
					parts = append(parts, ContentPart{Kind: PartText, Text: block.Text()})
				}
			case models.BlockTool:
				if block.Text() == "" {
					continue
				}
				parts = append(parts, ContentPart{
					Kind: PartToolUse, ToolCallID: block.CallID(), ToolName: block.ToolName(), ToolParams: block.Params(),
				})
				resultParts = append(resultParts, ContentPart{
					Kind: PartToolResult, ToolCallID: block.CallID(), ToolResultContent: block.Text(), ToolResultIsError: block.Status() == models.StatusError,
				})
			}
		}
		if len(parts) > 0 {
			a.messages = append(a.messages, ChatMessage{Role: turn.Role, Parts: parts})
		}
		if len(resultParts) > 0 {
			a.messages = append(a.messages, ChatMessage{Role: models.RoleUser, Parts: resultParts})
		}
	}
}

// backgroundFlag extracts the standardized "background" switch from a
// tool call's raw params.
func backgroundFlag(params json.RawMessage) bool {
	var decoded struct {
		Background bool `json:"background"`
	}
	if err := json.Unmarshal(params, &decoded); err != nil {
		return false
	}
	return decoded.Background
}

// isRetryable classifies an error from the chat endpoint as transient
// (worth a Retrying event) or fatal (terminal Error). Auth failures are
// never retryable; everything else is, matching scenario S4's "HTTP 529
// retried up to max_retries" behavior.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, auth.ErrNoCredentials) {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}
