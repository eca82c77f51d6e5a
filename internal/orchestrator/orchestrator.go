// Package orchestrator implements the single scheduler: it selects among
// terminal events, agent steps, tool executor events, and queued input
// (in that priority order), drives the Transcript's streaming API, and
// enacts the effects tool completions delegate to it (spawn a sub-agent,
// navigate the IDE, notify the user).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/internal/compaction"
	"github.com/tcdent/codey/internal/ide"
	"github.com/tcdent/codey/internal/observability"
	"github.com/tcdent/codey/internal/toolexec"
	"github.com/tcdent/codey/internal/transcript"
	"github.com/tcdent/codey/pkg/models"
)

// InputMode is the three-way terminal input state.
type InputMode string

const (
	// ModeNormalInput accepts free text entry and queued-input draining.
	ModeNormalInput InputMode = "normal"
	// ModeStreamingInput is active while the primary agent is mid-turn;
	// Esc cancels.
	ModeStreamingInput InputMode = "streaming"
	// ModeToolApproval is active while a tool call awaits a y/n/a decision.
	ModeToolApproval InputMode = "tool_approval"
)

// TerminalEvent is the minimal shape the out-of-scope terminal renderer
// feeds into the Orchestrator: a keystroke/paste/resize, or nothing
// ready yet. The renderer itself, and its widget model, are external
// collaborators; the Orchestrator only needs to know "a user message
// arrived" or "the user pressed Esc/Ctrl-C".
type TerminalEvent struct {
	Kind    TerminalEventKind
	Message string
}

// TerminalEventKind discriminates TerminalEvent values.
type TerminalEventKind string

const (
	TerminalNone      TerminalEventKind = "none"
	TerminalSubmit    TerminalEventKind = "submit"
	TerminalCancel    TerminalEventKind = "cancel"
	TerminalApprove   TerminalEventKind = "approve"
	TerminalDeny      TerminalEventKind = "deny"
	TerminalQuit      TerminalEventKind = "quit"
)

// TerminalSource is polled once per loop iteration for the next terminal
// event; a real implementation backs this with raw-mode stdin.
type TerminalSource interface {
	Next(ctx context.Context) (TerminalEvent, bool)
}

// Alert is a one-line, user-facing notice that doesn't belong in the
// model's context: errors that concern only the human user are not fed
// into the model context.
type Alert struct {
	Persistent bool
	Message    string
}

// AlertSink receives Alerts for the (out-of-scope) terminal renderer to
// display.
type AlertSink interface {
	Alert(Alert)
}

// Orchestrator owns the Transcript, the Agent Registry, and the Tool
// Executor exclusively: Agents, Tools, and the Transcript are pure value
// holders. No other component writes to them.
type Orchestrator struct {
	log *slog.Logger

	transcript *transcript.Transcript
	registry   *agent.Registry
	executor   *toolexec.Executor
	notifyQ    *NotificationQueue

	ide   ide.Bridge
	alert AlertSink

	mode InputMode

	compactionThreshold int64
	workspace           string

	subAgentConfig SubAgentPolicy

	pendingApproval *models.ToolCall

	// timeline is an optional recorder of tool-execution events (start,
	// completion, approval), kept separately from the tracer/metrics pair
	// since it serves interactive replay/debugging rather than export to
	// a metrics backend. Nil-safe: every call site checks it first.
	timeline *observability.EventRecorder

	// tracer spans each user message's entry into the Orchestrator. Nil-safe.
	tracer    *observability.Tracer
	sessionID string
}

// WithTimeline attaches an event recorder that captures tool-approval and
// tool-execution events as they're handled, for later inspection via
// observability.BuildTimeline/FormatTimeline. Returns the same
// Orchestrator for chaining at construction time.
func (o *Orchestrator) WithTimeline(recorder *observability.EventRecorder) *Orchestrator {
	o.timeline = recorder
	return o
}

// WithTracer attaches the tracer used to span incoming user messages, and
// the session id those spans are tagged with. Returns the same
// Orchestrator for chaining at construction time.
func (o *Orchestrator) WithTracer(tracer *observability.Tracer, sessionID string) *Orchestrator {
	o.tracer = tracer
	o.sessionID = sessionID
	return o
}

// SubAgentPolicy carries the construction-time knobs a SpawnAgent effect
// needs: the primary's runtime config (inherited by sub-agents unless
// overridden), the full tool registry to narrow from, and the default
// access level new sub-agents get.
type SubAgentPolicy struct {
	Runtime       models.AgentRuntimeConfig
	Provider      agent.LLMProvider
	FullRegistry  *agent.ToolRegistry
	ReadOnlyNames []string
	DefaultAccess models.ToolAccess
	SystemPrompt  func(task, context string) string

	// Tracer/Metrics are handed to every spawned sub-agent so its LLM
	// calls show up in the same traces/counters as the primary agent's.
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// New builds an Orchestrator. ideBridge and alertSink may be nil (the
// core then functions without previews/alerts).
func New(
	log *slog.Logger,
	t *transcript.Transcript,
	registry *agent.Registry,
	executor *toolexec.Executor,
	ideBridge ide.Bridge,
	alertSink AlertSink,
	workspace string,
	compactionThreshold int64,
	subAgents SubAgentPolicy,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:                 log,
		transcript:          t,
		registry:            registry,
		executor:            executor,
		notifyQ:             NewNotificationQueue(),
		ide:                 ideBridge,
		alert:               alertSink,
		mode:                ModeNormalInput,
		compactionThreshold: compactionThreshold,
		workspace:           workspace,
		subAgentConfig:      subAgents,
	}
}

// Mode reports the current input mode.
func (o *Orchestrator) Mode() InputMode { return o.mode }

func (o *Orchestrator) raiseAlert(a Alert) {
	o.log.Warn("orchestrator: alert", "message", a.Message, "persistent", a.Persistent)
	if o.alert != nil {
		o.alert.Alert(a)
	}
}

// EnqueueUserMessage is the Normal-mode entry point for a submitted user
// message. If the primary agent is idle, it starts immediately;
// otherwise it's queued as a Notification and drained once the
// Orchestrator is back in Normal input mode.
func (o *Orchestrator) EnqueueUserMessage(text string) {
	if o.tracer != nil {
		_, span := o.tracer.TraceUserTurn(context.Background(), "terminal", "inbound", o.sessionID)
		span.End()
	}
	o.notifyQ.Push(Notification{Kind: NotifyUserMessage, Text: text})
}

// RequestCompaction enqueues a non-interruptible compaction request; it
// only runs once the primary agent is idle and the Orchestrator is back
// in Normal input mode.
func (o *Orchestrator) RequestCompaction() {
	o.notifyQ.Push(Notification{Kind: NotifyCompactionRequest})
}

// Run drives one full iteration of the main loop's priority-biased
// select: terminal events first, then agent steps, then tool executor
// events, then queued input. It returns quit=true when the terminal
// source reports TerminalQuit.
func (o *Orchestrator) Run(ctx context.Context, term TerminalSource) (quit bool, err error) {
	if ev, ok := term.Next(ctx); ok {
		if done, terr := o.handleTerminal(ctx, ev); done || terr != nil {
			return done, terr
		}
	}

	if agentID, step, ok, aerr := o.registry.Next(ctx); aerr != nil {
		return false, fmt.Errorf("orchestrator: agent %d: %w", agentID, aerr)
	} else if ok {
		if err := o.handleAgentStep(ctx, agentID, step); err != nil {
			return false, err
		}
		return false, nil
	}

	if ev, eerr := o.executor.Next(ctx); eerr != nil {
		return false, fmt.Errorf("orchestrator: tool executor: %w", eerr)
	} else if ev.Kind != toolexec.EventNone {
		if err := o.handleToolEvent(ctx, ev); err != nil {
			return false, err
		}
		return false, nil
	}

	if o.mode == ModeNormalInput {
		o.drainQueuedInput()
	}

	return false, nil
}

func (o *Orchestrator) handleTerminal(ctx context.Context, ev TerminalEvent) (quit bool, err error) {
	switch ev.Kind {
	case TerminalNone:
		return false, nil
	case TerminalQuit:
		return true, nil
	case TerminalCancel:
		o.cancelPrimary()
		return false, nil
	case TerminalSubmit:
		o.EnqueueUserMessage(ev.Message)
		return false, nil
	case TerminalApprove, TerminalDeny:
		if o.mode != ModeToolApproval || o.pendingApproval == nil {
			return false, nil
		}
		decision := models.DecisionDeny
		if ev.Kind == TerminalApprove {
			decision = models.DecisionApprove
		}
		callID := o.pendingApproval.CallID
		o.pendingApproval = nil
		o.mode = ModeStreamingInput
		if err := o.executor.Decide(callID, decision); err != nil {
			return false, fmt.Errorf("orchestrator: decide %q: %w", callID, err)
		}
		return false, nil
	default:
		return false, nil
	}
}

// cancelPrimary implements the interrupt semantics: Esc/Ctrl-C cancels
// the primary agent and the tool executor, and marks the current turn
// finished.
func (o *Orchestrator) cancelPrimary() {
	if primary, ok := o.registry.Get(0); ok {
		primary.Cancel()
	}
	o.executor.Cancel()
	if err := o.transcript.FinishTurn(); err != nil {
		o.log.Error("orchestrator: finish turn on cancel", "error", err)
	}
	o.mode = ModeNormalInput
}

func (o *Orchestrator) drainQueuedInput() {
	for _, n := range o.notifyQ.DrainAll() {
		o.applyNotification(n)
	}
}

func (o *Orchestrator) applyNotification(n Notification) {
	primary, ok := o.registry.Get(0)
	if !ok || !primary.Idle() {
		return
	}
	switch n.Kind {
	case NotifyUserMessage:
		o.transcript.BeginTurn(models.RoleUser)
		o.transcript.StreamDelta(models.BlockText, n.Text)
		if err := o.transcript.FinishTurn(); err != nil {
			o.log.Error("orchestrator: finish user turn", "error", err)
		}
		if err := primary.SendRequest(n.Text, models.ModeNormal); err != nil {
			o.log.Error("orchestrator: send request", "error", err)
			return
		}
		o.transcript.BeginTurn(models.RoleAssistant)
		o.mode = ModeStreamingInput
	case NotifyCompactionRequest:
		o.beginCompaction(primary)
	case NotifyBackgroundToolComplete:
		o.deliverBackgroundResult(n.CallID)
	case NotifyBackgroundAgentComplete:
		o.log.Info("orchestrator: background agent complete", "agent_id", n.AgentID)
	case NotifyCommand:
		o.log.Info("orchestrator: command notification", "label", n.Label)
	}
}

func (o *Orchestrator) beginCompaction(primary *agent.Agent) {
	prompt := "Summarize this conversation so far, following the required schema."
	if err := primary.SendRequest(prompt, models.ModeCompaction); err != nil {
		o.log.Error("orchestrator: begin compaction", "error", err)
		return
	}
	o.transcript.BeginTurn(models.RoleAssistant)
	o.mode = ModeStreamingInput
}

func (o *Orchestrator) deliverBackgroundResult(callID string) {
	content, isError, ok := o.executor.TakeResult(context.Background(), callID)
	if !ok {
		return
	}
	if block := o.transcript.FindToolBlockMut(callID); block != nil {
		block.AppendText(content)
		if isError {
			block.SetStatus(models.StatusError)
		} else {
			block.SetStatus(models.StatusComplete)
		}
	}
	agentID := o.backgroundCallAgent(callID)
	if primary, ok := o.registry.Get(agentID); ok {
		_ = primary.SubmitToolResult(callID, content, isError)
	}
}

// backgroundCallAgent is a placeholder hook: the executor records the
// owning agent id at BackgroundStarted time but TakeResult doesn't carry
// it forward, so callers that need exact multi-agent routing should track
// it themselves at BackgroundStarted. Single-agent deployments (the
// common case) always resolve to the primary.
func (o *Orchestrator) backgroundCallAgent(string) int { return 0 }

func (o *Orchestrator) handleAgentStep(ctx context.Context, agentID int, step agent.Step) error {
	a, ok := o.registry.Get(agentID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown agent id %d", agentID)
	}
	switch step.Kind {
	case agent.StepTextDelta:
		o.transcript.StreamDelta(models.BlockText, step.Text)
	case agent.StepThinkingDelta:
		o.transcript.StreamDelta(models.BlockThinking, step.Text)
	case agent.StepCompactionDelta:
		o.transcript.StreamDelta(models.BlockCompaction, step.Text)
	case agent.StepToolRequest:
		for _, call := range step.ToolCalls {
			call.AgentID = agentID
			block := models.NewToolBlock(call.CallID, call.Name, call.Params, call.Background)
			o.transcript.StartBlock(block)
			o.executor.Enqueue(call)
		}
	case agent.StepRetrying:
		o.raiseAlert(Alert{Message: fmt.Sprintf("retrying (attempt %d): %v", step.Attempt, step.Err)})
	case agent.StepFinished:
		return o.finishAgentTurn(a, step)
	case agent.StepError:
		o.transcript.MarkActiveBlock(models.StatusError)
		_ = o.transcript.FinishTurn()
		o.mode = ModeNormalInput
		o.raiseAlert(Alert{Persistent: true, Message: fmt.Sprintf("agent error: %v", step.Err)})
	}
	return nil
}

func (o *Orchestrator) finishAgentTurn(a *agent.Agent, step agent.Step) error {
	if err := o.transcript.FinishTurn(); err != nil {
		return fmt.Errorf("orchestrator: finish turn: %w", err)
	}
	o.mode = ModeNormalInput

	if a.Mode() == models.ModeCompaction {
		summary, err := compaction.Parse(step.Text)
		if err != nil {
			o.log.Warn("orchestrator: compaction summary did not parse, using raw text", "error", err)
			summary = compaction.Summary{ProjectInfo: step.Text}
		}
		rendered := compaction.Render(summary)
		a.ResetWithSummary(rendered)
		next, err := o.transcript.Rotate(o.workspace)
		if err != nil {
			return fmt.Errorf("orchestrator: rotate transcript: %w", err)
		}
		o.transcript = next
		return nil
	}

	if o.compactionThreshold > 0 && a.TotalUsage().ContextTokens >= o.compactionThreshold {
		o.RequestCompaction()
	}
	return nil
}

func (o *Orchestrator) handleToolEvent(ctx context.Context, ev toolexec.Event) error {
	switch ev.Kind {
	case toolexec.EventAwaitingApproval:
		return o.handleAwaitingApproval(ctx, ev)
	case toolexec.EventOutputDelta:
		if block := o.transcript.FindToolBlockMut(ev.CallID); block != nil {
			block.AppendText(ev.Delta)
		}
	case toolexec.EventCompleted:
		o.handleCompleted(ctx, ev)
	case toolexec.EventBackgroundStarted:
		if block := o.transcript.FindToolBlockMut(ev.CallID); block != nil {
			block.SetStatus(models.StatusRunning)
		}
	case toolexec.EventBackgroundComplete:
		o.notifyQ.Push(Notification{Kind: NotifyBackgroundToolComplete, CallID: ev.CallID, AgentID: ev.AgentID})
	}
	return nil
}

func (o *Orchestrator) handleAwaitingApproval(ctx context.Context, ev toolexec.Event) error {
	call := models.ToolCall{AgentID: ev.AgentID, CallID: ev.CallID}
	o.pendingApproval = &call
	o.mode = ModeToolApproval
	if o.timeline != nil {
		ctx = observability.AddToolCallID(ctx, ev.CallID)
		_ = o.timeline.Record(ctx, observability.EventTypeApprovalReq, ev.CallID, nil)
	}
	if o.ide != nil {
		if block := o.transcript.FindToolBlockMut(ev.CallID); block != nil {
			preview := ide.ToolPreview{CallID: block.CallID(), ToolName: block.ToolName(), Params: block.Params()}
			if err := o.ide.ShowPreview(ctx, preview); err != nil {
				o.log.Warn("orchestrator: ide preview", "error", err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) handleCompleted(ctx context.Context, ev toolexec.Event) {
	if block := o.transcript.FindToolBlockMut(ev.CallID); block != nil {
		if block.Text() == "" {
			block.AppendText(ev.Content)
		}
		if ev.IsError {
			block.SetStatus(models.StatusError)
		} else {
			block.SetStatus(models.StatusComplete)
		}
	}
	if o.timeline != nil {
		ctx = observability.AddToolCallID(ctx, ev.CallID)
		if ev.IsError {
			_ = o.timeline.RecordError(ctx, observability.EventTypeToolError, ev.CallID, fmt.Errorf("%s", ev.Content), nil)
		} else {
			_ = o.timeline.Record(ctx, observability.EventTypeToolEnd, ev.CallID, nil)
		}
	}
	for _, effect := range ev.Effects {
		o.applyEffect(ctx, ev.AgentID, effect)
	}
	if a, ok := o.registry.Get(ev.AgentID); ok {
		if err := a.SubmitToolResult(ev.CallID, ev.Content, ev.IsError); err != nil {
			o.log.Error("orchestrator: submit tool result", "error", err, "call_id", ev.CallID)
		}
	}
	if o.mode == ModeToolApproval {
		o.mode = ModeStreamingInput
	}
}
