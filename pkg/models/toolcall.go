package models

import "encoding/json"

// ToolDecision is the approval state of a ToolCall.
type ToolDecision string

const (
	DecisionPending   ToolDecision = "pending"
	DecisionRequested ToolDecision = "requested"
	DecisionApprove   ToolDecision = "approve"
	DecisionDeny      ToolDecision = "deny"
)

// ToolCall is a concrete tool invocation requested by an Agent. It is created
// when the model emits tool-use and destroyed once the Tool Executor has
// reported a terminal Completed event for it.
type ToolCall struct {
	AgentID    int             `json:"agent_id"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Params     json.RawMessage `json:"params"`
	Decision   ToolDecision    `json:"decision"`
	Background bool            `json:"background"`
}

// ToolResult is the terminal outcome of executing a ToolCall.
type ToolResult struct {
	Content string   `json:"content"`
	IsError bool     `json:"is_error"`
	Effects []Effect `json:"effects,omitempty"`
}

// ToolOutputKind distinguishes streamed tool output variants.
type ToolOutputKind string

const (
	ToolOutputDelta ToolOutputKind = "delta"
	ToolOutputDone  ToolOutputKind = "done"
)

// ToolOutput is one value in the stream a Tool produces while executing.
type ToolOutput struct {
	Kind   ToolOutputKind
	Delta  string
	Result *ToolResult
}

// Usage tracks token accounting for an Agent's session. OutputTokens is
// cumulative; the remaining fields are replaced (not summed) on each turn,
// since they represent the current context size rather than a running total.
type Usage struct {
	OutputTokens        int64 `json:"output_tokens"`
	ContextTokens        int64 `json:"context_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
}

// Add folds a turn's usage into the cumulative/current-state totals.
func (u *Usage) Add(turn Usage) {
	u.OutputTokens += turn.OutputTokens
	u.ContextTokens = turn.ContextTokens
	u.CacheCreationTokens = turn.CacheCreationTokens
	u.CacheReadTokens = turn.CacheReadTokens
}

// RequestMode selects which request shape the Agent builds.
type RequestMode string

const (
	ModeNormal     RequestMode = "normal"
	ModeCompaction RequestMode = "compaction"
)

// AgentRuntimeConfig is the reduced configuration surface the core receives
// from the external config collaborator.
type AgentRuntimeConfig struct {
	Model                    string `json:"model"`
	MaxTokens                int    `json:"max_tokens"`
	ThinkingBudget           int    `json:"thinking_budget"`
	MaxRetries               int    `json:"max_retries"`
	CompactionThinkingBudget int    `json:"compaction_thinking_budget"`
	CompactionThreshold      int64  `json:"compaction_threshold"`
}

// ToolAccess bounds what a spawned sub-agent's tool registry may contain.
type ToolAccess string

const (
	ToolAccessFull     ToolAccess = "full"
	ToolAccessReadOnly ToolAccess = "read_only"
	ToolAccessNone     ToolAccess = "none"
)

// Effect is a side-effect request a tool delegates to the Orchestrator.
type Effect interface {
	isEffect()
}

// SpawnAgentEffect asks the Orchestrator to register a sub-agent.
type SpawnAgentEffect struct {
	Task       string
	Context    string
	Access     ToolAccess
	ParentID   int
	Label      string
}

func (SpawnAgentEffect) isEffect() {}

// IdeOpenEffect asks the IDE bridge to navigate to a location.
type IdeOpenEffect struct {
	Path   string
	Line   int
	Column int
}

func (IdeOpenEffect) isEffect() {}

// NotifyEffect surfaces a message to the user via the alert channel.
type NotifyEffect struct {
	Message string
}

func (NotifyEffect) isEffect() {}
