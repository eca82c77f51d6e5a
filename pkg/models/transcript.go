// Package models holds the shared value types that flow between the
// transcript, tool, and agent layers: roles, statuses, blocks, turns, tool
// calls, usage counters and delegated effects.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of a block.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

// BlockKind identifies which concrete Block variant is in play.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockTool       BlockKind = "tool"
	BlockCompaction BlockKind = "compaction"
)

// Block is the unit of rendered content inside a Turn. A block's kind is
// fixed at creation; CallID is non-empty iff Kind() == BlockTool.
type Block interface {
	Kind() BlockKind
	Status() Status
	SetStatus(Status)
	AppendText(text string)
	Text() string
	CallID() string
	ToolName() string
	Params() json.RawMessage
}

// baseBlock carries the fields common to Text/Thinking/Compaction blocks.
type baseBlock struct {
	TextContent string `json:"text"`
	StatusValue Status `json:"status"`
}

func (b *baseBlock) Status() Status        { return b.StatusValue }
func (b *baseBlock) SetStatus(s Status)    { b.StatusValue = s }
func (b *baseBlock) AppendText(t string)   { b.TextContent += t }
func (b *baseBlock) Text() string          { return b.TextContent }
func (b *baseBlock) CallID() string        { return "" }
func (b *baseBlock) ToolName() string      { return "" }
func (b *baseBlock) Params() json.RawMessage { return nil }

// TextBlock is freeform markdown content, streaming-appendable.
type TextBlock struct {
	baseBlock
}

func NewTextBlock(text string) *TextBlock {
	return &TextBlock{baseBlock{TextContent: text, StatusValue: StatusRunning}}
}

func (b *TextBlock) Kind() BlockKind { return BlockText }

// ThinkingBlock is an opaque reasoning chunk produced by the model.
type ThinkingBlock struct {
	baseBlock
}

func NewThinkingBlock(text string) *ThinkingBlock {
	return &ThinkingBlock{baseBlock{TextContent: text, StatusValue: StatusRunning}}
}

func (b *ThinkingBlock) Kind() BlockKind { return BlockThinking }

// CompactionBlock holds the summary produced by a compaction turn.
type CompactionBlock struct {
	baseBlock
}

func NewCompactionBlock(text string) *CompactionBlock {
	return &CompactionBlock{baseBlock{TextContent: text, StatusValue: StatusRunning}}
}

func (b *CompactionBlock) Kind() BlockKind { return BlockCompaction }

// ToolBlock carries a tool invocation and its accumulated output.
type ToolBlock struct {
	CallIDValue   string          `json:"call_id"`
	NameValue     string          `json:"name"`
	ParamsValue   json.RawMessage `json:"params"`
	StatusValue   Status          `json:"status"`
	Output        string          `json:"output"`
	Background    bool            `json:"background"`
}

func NewToolBlock(callID, name string, params json.RawMessage, background bool) *ToolBlock {
	return &ToolBlock{
		CallIDValue: callID,
		NameValue:   name,
		ParamsValue: params,
		StatusValue: StatusPending,
		Background:  background,
	}
}

func (b *ToolBlock) Kind() BlockKind            { return BlockTool }
func (b *ToolBlock) Status() Status             { return b.StatusValue }
func (b *ToolBlock) SetStatus(s Status)         { b.StatusValue = s }
func (b *ToolBlock) AppendText(t string)        { b.Output += t }
func (b *ToolBlock) Text() string                { return b.Output }
func (b *ToolBlock) CallID() string             { return b.CallIDValue }
func (b *ToolBlock) ToolName() string           { return b.NameValue }
func (b *ToolBlock) Params() json.RawMessage    { return b.ParamsValue }

// Turn is one unit of dialogue: all blocks produced by one role before the
// conversation switches. At most one block is "active" (the streaming
// target) at a time.
type Turn struct {
	ID             uint64    `json:"id"`
	Role           Role      `json:"role"`
	Timestamp      time.Time `json:"timestamp"`
	Content        []Block   `json:"content"`
	activeBlockIdx int
	hasActive      bool
}

func NewTurn(id uint64, role Role) *Turn {
	return &Turn{ID: id, Role: role, Timestamp: time.Now().UTC()}
}

// AddBlock appends a block and returns its index.
func (t *Turn) AddBlock(b Block) int {
	t.Content = append(t.Content, b)
	return len(t.Content) - 1
}

// CompleteBlock marks the block at idx as Complete, if present.
func (t *Turn) CompleteBlock(idx int) {
	if idx >= 0 && idx < len(t.Content) {
		t.Content[idx].SetStatus(StatusComplete)
	}
}

// StartBlock completes the current active block (if any) and installs b as
// the new active block, returning its index.
func (t *Turn) StartBlock(b Block) int {
	if t.hasActive {
		t.CompleteBlock(t.activeBlockIdx)
	}
	idx := t.AddBlock(b)
	t.activeBlockIdx = idx
	t.hasActive = true
	return idx
}

// IsActiveBlockKind reports whether the active block matches kind.
func (t *Turn) IsActiveBlockKind(kind BlockKind) bool {
	if !t.hasActive || t.activeBlockIdx >= len(t.Content) {
		return false
	}
	return t.Content[t.activeBlockIdx].Kind() == kind
}

// ActiveBlock returns the currently active block, or nil.
func (t *Turn) ActiveBlock() Block {
	if !t.hasActive || t.activeBlockIdx >= len(t.Content) {
		return nil
	}
	return t.Content[t.activeBlockIdx]
}

// AppendToActive appends text to the active block, if any.
func (t *Turn) AppendToActive(text string) {
	if b := t.ActiveBlock(); b != nil {
		b.AppendText(text)
	}
}

// ClearActive clears the active-block pointer without altering its status.
func (t *Turn) ClearActive() {
	t.hasActive = false
}
