package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/internal/jobs"
	"github.com/tcdent/codey/pkg/models"
)

// stubTool is a minimal agent.Tool that returns a single fixed result, or
// runs until ctx is cancelled when background is requested.
type stubTool struct {
	name    string
	result  models.ToolResult
	isError bool
	delay   chan struct{}
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "test tool" }
func (s *stubTool) Schema() json.RawMessage    { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(ctx context.Context, _ json.RawMessage) (<-chan models.ToolOutput, error) {
	out := make(chan models.ToolOutput, 2)
	go func() {
		defer close(out)
		if s.delay != nil {
			select {
			case <-s.delay:
			case <-ctx.Done():
				return
			}
		}
		res := s.result
		out <- models.ToolOutput{Kind: models.ToolOutputDone, Result: &res}
	}()
	return out, nil
}

func newExecutor(tools ...agent.Tool) *Executor {
	reg := agent.NewToolRegistry(tools...)
	return New(reg, nil, jobs.NewMemoryStore())
}

func TestExecutorForegroundRunRequiresApproval(t *testing.T) {
	e := newExecutor(&stubTool{name: "echo", result: models.ToolResult{Content: "hi"}})
	call := models.ToolCall{AgentID: 0, CallID: "c1", Name: "echo", Params: json.RawMessage(`{}`)}
	e.Enqueue(call)

	ev, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventAwaitingApproval || ev.CallID != "c1" {
		t.Fatalf("expected AwaitingApproval for c1, got %+v", ev)
	}

	if err := e.Decide("c1", models.DecisionApprove); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	ev, err = e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventCompleted || ev.Content != "hi" || ev.IsError {
		t.Fatalf("expected Completed with 'hi', got %+v", ev)
	}
}

func TestExecutorDenyShortCircuits(t *testing.T) {
	e := newExecutor(&stubTool{name: "echo"})
	e.Enqueue(models.ToolCall{CallID: "c1", Name: "echo", Params: json.RawMessage(`{}`)})
	e.Next(context.Background())

	if err := e.Decide("c1", models.DecisionDeny); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	ev, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventCompleted || !ev.IsError || ev.Content != "Denied by user" {
		t.Fatalf("expected denied completion, got %+v", ev)
	}
}

func TestExecutorDecideRejectsWrongHead(t *testing.T) {
	e := newExecutor(&stubTool{name: "echo"})
	e.Enqueue(models.ToolCall{CallID: "c1", Name: "echo", Params: json.RawMessage(`{}`)})

	if err := e.Decide("not-head", models.DecisionApprove); err == nil {
		t.Fatal("expected error deciding a call not at queue head")
	}
}

func TestExecutorAutoFilterSkipsApproval(t *testing.T) {
	filters, err := agent.NewToolFilters(map[string]models.ToolFilterConfig{
		"echo": {Allow: []string{".*"}},
	})
	if err != nil {
		t.Fatalf("NewToolFilters: %v", err)
	}
	reg := agent.NewToolRegistry(&stubTool{name: "echo", result: models.ToolResult{Content: "auto"}})
	e := New(reg, filters, jobs.NewMemoryStore())
	e.Enqueue(models.ToolCall{CallID: "c1", Name: "echo", Params: json.RawMessage(`{"command":"ls"}`)})

	ev, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventCompleted || ev.Content != "auto" {
		t.Fatalf("expected immediate auto-approved completion, got %+v", ev)
	}
}

func TestExecutorBackgroundCallCompletesViaJobStore(t *testing.T) {
	delay := make(chan struct{})
	e := newExecutor(&stubTool{name: "job", result: models.ToolResult{Content: "done"}, delay: delay})
	e.Enqueue(models.ToolCall{CallID: "c1", Name: "job", Params: json.RawMessage(`{}`), Decision: models.DecisionApprove, Background: true})

	ev, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventBackgroundStarted {
		t.Fatalf("expected BackgroundStarted, got %+v", ev)
	}

	close(delay)
	deadline := make(chan struct{})
	go func() {
		for {
			ev, err := e.Next(context.Background())
			if err != nil {
				t.Errorf("Next: %v", err)
				close(deadline)
				return
			}
			if ev.Kind == EventBackgroundComplete {
				close(deadline)
				return
			}
		}
	}()
	<-deadline

	content, isError, ok := e.TakeResult(context.Background(), "c1")
	if !ok || isError || content != "done" {
		t.Fatalf("TakeResult = (%q, %v, %v), want (\"done\", false, true)", content, isError, ok)
	}
}

func TestExecutorCancelDropsQueueAndActive(t *testing.T) {
	e := newExecutor(&stubTool{name: "echo"})
	e.Enqueue(models.ToolCall{CallID: "c1", Name: "echo", Params: json.RawMessage(`{}`)})
	e.Cancel()

	ev, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventNone {
		t.Fatalf("expected EventNone after cancel, got %+v", ev)
	}
}
