// Package toolexec implements the Tool Executor: a FIFO queue of tool
// calls gated by an approval state machine, with a single foreground
// execution slot and an unbounded set of detached background executions
// backed by a job store.
package toolexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/internal/jobs"
	"github.com/tcdent/codey/internal/observability"
	"github.com/tcdent/codey/pkg/models"
)

// EventKind discriminates the values Executor.Next returns:
// AwaitingApproval, OutputDelta, Completed, the background-call
// variants, and EventNone for "nothing to report".
type EventKind string

const (
	EventNone               EventKind = "none"
	EventAwaitingApproval   EventKind = "awaiting_approval"
	EventOutputDelta        EventKind = "output_delta"
	EventCompleted          EventKind = "completed"
	EventBackgroundStarted  EventKind = "background_started"
	EventBackgroundComplete EventKind = "background_completed"
)

// Event is one value Executor.Next returns.
type Event struct {
	Kind    EventKind
	AgentID int
	CallID  string
	Delta   string
	Content string
	IsError bool
	Effects []models.Effect
}

type queuedCall struct {
	call models.ToolCall
}

// activeExecution is the Tool Executor's single foreground execution slot.
type activeExecution struct {
	agentID     int
	callID      string
	toolName    string
	output      <-chan models.ToolOutput
	accumulated strings.Builder

	span  oteltrace.Span
	start time.Time
}

// Executor is the Tool Executor.
type Executor struct {
	registry *agent.ToolRegistry
	filters  *agent.ToolFilters
	jobStore jobs.Store

	queue  []*queuedCall
	active *activeExecution

	backgroundPending map[string]int // call_id -> agent_id, awaiting a terminal job status

	// tracer/metrics are the optional observability collaborators,
	// wrapping each dispatched tool call in a span and a latency
	// histogram. Nil-safe.
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// New builds an Executor. filters may be nil (every call then requires
// explicit approval); jobStore backs background-call results.
func New(registry *agent.ToolRegistry, filters *agent.ToolFilters, jobStore jobs.Store) *Executor {
	return &Executor{
		registry:          registry,
		filters:           filters,
		jobStore:          jobStore,
		backgroundPending: map[string]int{},
	}
}

// WithObservability attaches the optional tracer/metrics collaborators,
// returning the same Executor for chaining at construction time.
func (e *Executor) WithObservability(tracer *observability.Tracer, metrics *observability.Metrics) *Executor {
	e.tracer = tracer
	e.metrics = metrics
	return e
}

// Enqueue adds a call to the tail of the FIFO queue. If a configured
// filter auto-decides it, the decision is applied immediately
// so the first poll skips straight to AwaitingApproval-free dispatch or
// an immediate denial.
func (e *Executor) Enqueue(call models.ToolCall) {
	if e.filters != nil {
		if d := e.filters.Decide(call); d != nil {
			call.Decision = *d
		}
	}
	e.queue = append(e.queue, &queuedCall{call: call})
}

// Decide applies the Orchestrator's approval decision to the call
// currently at the head of the queue awaiting it. decision must be
// DecisionApprove or DecisionDeny.
func (e *Executor) Decide(callID string, decision models.ToolDecision) error {
	if len(e.queue) == 0 || e.queue[0].call.CallID != callID {
		return fmt.Errorf("toolexec: %q is not the call awaiting a decision", callID)
	}
	if e.queue[0].call.Decision != models.DecisionRequested {
		return fmt.Errorf("toolexec: %q is not awaiting a decision", callID)
	}
	e.queue[0].call.Decision = decision
	return nil
}

// Cancel drops the active execution and every queued call. Background
// executions already dispatched to the job store are left running; the
// Orchestrator reconciles them independently via TakeResult.
func (e *Executor) Cancel() {
	e.queue = nil
	e.active = nil
}

// Next advances the state machine one step.
func (e *Executor) Next(ctx context.Context) (Event, error) {
	if e.active != nil {
		return e.drainActive(ctx)
	}
	if ev, ok := e.pollBackground(ctx); ok {
		return ev, nil
	}
	if len(e.queue) == 0 {
		return Event{Kind: EventNone}, nil
	}

	head := e.queue[0]
	switch head.call.Decision {
	case models.DecisionPending:
		head.call.Decision = models.DecisionRequested
		return Event{Kind: EventAwaitingApproval, AgentID: head.call.AgentID, CallID: head.call.CallID}, nil
	case models.DecisionRequested:
		return Event{Kind: EventNone}, nil
	case models.DecisionDeny:
		e.queue = e.queue[1:]
		return Event{Kind: EventCompleted, AgentID: head.call.AgentID, CallID: head.call.CallID, IsError: true, Content: "Denied by user"}, nil
	case models.DecisionApprove:
		e.queue = e.queue[1:]
		return e.dispatch(ctx, head.call)
	default:
		e.queue = e.queue[1:]
		return Event{Kind: EventCompleted, AgentID: head.call.AgentID, CallID: head.call.CallID, IsError: true, Content: "internal: unrecognized decision state"}, nil
	}
}

func (e *Executor) dispatch(ctx context.Context, call models.ToolCall) (Event, error) {
	var span oteltrace.Span
	if e.tracer != nil {
		_, span = e.tracer.TraceToolExecution(ctx, call.Name)
	}
	start := time.Now()

	output, err := e.registry.Execute(ctx, call.Name, call.Params)
	if err != nil {
		e.recordToolExecution(span, call.Name, start, err)
		return Event{Kind: EventCompleted, AgentID: call.AgentID, CallID: call.CallID, IsError: true, Content: err.Error()}, nil
	}

	if call.Background {
		return e.startBackground(ctx, call, output, span, start)
	}

	e.active = &activeExecution{agentID: call.AgentID, callID: call.CallID, toolName: call.Name, output: output, span: span, start: start}
	return e.drainActive(ctx)
}

// recordToolExecution closes the span and records the Prometheus
// histogram/counter pair for one tool execution. Nil-safe.
func (e *Executor) recordToolExecution(span oteltrace.Span, toolName string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	if e.tracer != nil && span != nil {
		if err != nil {
			e.tracer.RecordError(span, err)
		}
		span.End()
	}
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordToolExecution(toolName, status, duration)
	}
}

func (e *Executor) drainActive(ctx context.Context) (Event, error) {
	select {
	case out, ok := <-e.active.output:
		if !ok {
			agentID, callID, toolName, span, start := e.active.agentID, e.active.callID, e.active.toolName, e.active.span, e.active.start
			content := e.active.accumulated.String()
			e.active = nil
			err := fmt.Errorf("tool %q closed its output channel without a result", toolName)
			e.recordToolExecution(span, toolName, start, err)
			return Event{Kind: EventCompleted, AgentID: agentID, CallID: callID, IsError: true, Content: content + "\n(tool closed its output channel without a result)"}, nil
		}
		switch out.Kind {
		case models.ToolOutputDelta:
			e.active.accumulated.WriteString(out.Delta)
			return Event{Kind: EventOutputDelta, AgentID: e.active.agentID, CallID: e.active.callID, Delta: out.Delta}, nil
		case models.ToolOutputDone:
			agentID, callID, toolName, span, start := e.active.agentID, e.active.callID, e.active.toolName, e.active.span, e.active.start
			e.active = nil
			if out.Result == nil {
				err := fmt.Errorf("tool %q finished without a result", toolName)
				e.recordToolExecution(span, toolName, start, err)
				return Event{Kind: EventCompleted, AgentID: agentID, CallID: callID, IsError: true, Content: "tool finished without a result"}, nil
			}
			var execErr error
			if out.Result.IsError {
				execErr = fmt.Errorf("tool %q reported an error result", toolName)
			}
			e.recordToolExecution(span, toolName, start, execErr)
			return Event{
				Kind: EventCompleted, AgentID: agentID, CallID: callID,
				Content: out.Result.Content, IsError: out.Result.IsError, Effects: out.Result.Effects,
			}, nil
		default:
			return Event{Kind: EventNone}, nil
		}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// startBackground hands the call off to the job store and drains its
// output channel on a detached goroutine, so Next returns immediately.
func (e *Executor) startBackground(ctx context.Context, call models.ToolCall, output <-chan models.ToolOutput, span oteltrace.Span, start time.Time) (Event, error) {
	bgCtx, cancel := context.WithCancel(context.Background())
	job := &jobs.Job{ID: call.CallID, ToolName: call.Name, ToolCallID: call.CallID, Status: jobs.StatusRunning}
	if err := e.jobStore.Create(bgCtx, job); err != nil {
		cancel()
		e.recordToolExecution(span, call.Name, start, err)
		return Event{Kind: EventCompleted, AgentID: call.AgentID, CallID: call.CallID, IsError: true, Content: err.Error()}, nil
	}
	if ms, ok := e.jobStore.(*jobs.MemoryStore); ok {
		ms.SetCancelFunc(call.CallID, cancel)
	}
	e.backgroundPending[call.CallID] = call.AgentID

	go func() {
		defer cancel()
		var acc strings.Builder
		var result *models.ToolResult
		for out := range output {
			switch out.Kind {
			case models.ToolOutputDelta:
				acc.WriteString(out.Delta)
			case models.ToolOutputDone:
				result = out.Result
			}
		}
		finished := &jobs.Job{ID: call.CallID, ToolName: call.Name, ToolCallID: call.CallID}
		var execErr error
		if result == nil {
			finished.Status = jobs.StatusFailed
			finished.Error = acc.String() + "\n(tool closed its output channel without a result)"
			execErr = fmt.Errorf("tool %q background run finished without a result", call.Name)
		} else {
			finished.Status = jobs.StatusSucceeded
			if result.IsError {
				finished.Status = jobs.StatusFailed
				execErr = fmt.Errorf("tool %q background run reported an error result", call.Name)
			}
			finished.Result = result
		}
		e.recordToolExecution(span, call.Name, start, execErr)
		_ = e.jobStore.Update(bgCtx, finished)
	}()

	return Event{Kind: EventBackgroundStarted, AgentID: call.AgentID, CallID: call.CallID}, nil
}

// pollBackground checks every outstanding background call for a terminal
// job status, emitting BackgroundCompleted for the first one found.
func (e *Executor) pollBackground(ctx context.Context) (Event, bool) {
	for callID, agentID := range e.backgroundPending {
		job, err := e.jobStore.Get(ctx, callID)
		if err != nil || job == nil {
			continue
		}
		if job.Status == jobs.StatusSucceeded || job.Status == jobs.StatusFailed {
			delete(e.backgroundPending, callID)
			return Event{Kind: EventBackgroundComplete, AgentID: agentID, CallID: callID}, true
		}
	}
	return Event{}, false
}

// TakeResult returns the stored result for a finished background call, so
// the Orchestrator can feed it back into the originating Agent via
// Agent.SubmitToolResult. ok is false if the call isn't finished (or
// doesn't exist).
func (e *Executor) TakeResult(ctx context.Context, callID string) (content string, isError bool, ok bool) {
	job, err := e.jobStore.Get(ctx, callID)
	if err != nil || job == nil {
		return "", false, false
	}
	switch job.Status {
	case jobs.StatusSucceeded:
		if job.Result != nil {
			return job.Result.Content, job.Result.IsError, true
		}
		return "", false, true
	case jobs.StatusFailed:
		if job.Result != nil {
			return job.Result.Content, true, true
		}
		return job.Error, true, true
	default:
		return "", false, false
	}
}
