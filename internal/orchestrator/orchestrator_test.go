package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/internal/agent/tape"
	"github.com/tcdent/codey/internal/jobs"
	"github.com/tcdent/codey/internal/toolexec"
	"github.com/tcdent/codey/internal/transcript"
	"github.com/tcdent/codey/pkg/models"
)

// scriptedTerm replays a fixed sequence of TerminalEvents, one per Next
// call, then reports nothing ready.
type scriptedTerm struct {
	events []TerminalEvent
	idx    int
}

func (s *scriptedTerm) Next(context.Context) (TerminalEvent, bool) {
	if s.idx >= len(s.events) {
		return TerminalEvent{}, false
	}
	ev := s.events[s.idx]
	s.idx++
	return ev, true
}

type stubEchoTool struct {
	name   string
	result models.ToolResult
}

func (s *stubEchoTool) Name() string            { return s.name }
func (s *stubEchoTool) Description() string     { return "test" }
func (s *stubEchoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubEchoTool) Execute(ctx context.Context, _ json.RawMessage) (<-chan models.ToolOutput, error) {
	out := make(chan models.ToolOutput, 1)
	res := s.result
	out <- models.ToolOutput{Kind: models.ToolOutputDone, Result: &res}
	close(out)
	return out, nil
}

func newTestOrchestrator(t *testing.T, provider agent.LLMProvider, toolRegistry *agent.ToolRegistry) (*Orchestrator, *agent.Registry) {
	t.Helper()
	tr := transcript.WithPath(filepath.Join(t.TempDir(), "transcript.json"))

	primary := agent.New(agent.Config{
		SystemPrompt: "test",
		Provider:     provider,
		Registry:     toolRegistry,
		Runtime:      models.AgentRuntimeConfig{Model: "test-model", MaxTokens: 1024, MaxRetries: 1},
	})
	registry := agent.NewRegistry()
	registry.Register(primary)

	exec := toolexec.New(toolRegistry, nil, jobs.NewMemoryStore())
	subAgents := SubAgentPolicy{DefaultAccess: models.ToolAccessNone}
	orch := New(nil, tr, registry, exec, nil, nil, t.TempDir(), 0, subAgents)
	return orch, registry
}

// runUntil drives Run until pred reports true or maxIters is exhausted.
func runUntil(t *testing.T, orch *Orchestrator, term TerminalSource, maxIters int, pred func() bool) {
	t.Helper()
	for i := 0; i < maxIters; i++ {
		if pred() {
			return
		}
		quit, err := orch.Run(context.Background(), term)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if quit {
			return
		}
	}
	if !pred() {
		t.Fatalf("predicate never satisfied within %d iterations", maxIters)
	}
}

func TestOrchestratorSubmitMessageReachesFinished(t *testing.T) {
	replayer := tape.NewReplayer(tape.NewTape(tape.TextTurn("hello ", "there")))
	orch, registry := newTestOrchestrator(t, replayer, agent.EmptyToolRegistry())

	primary, _ := registry.Get(0)
	term := &scriptedTerm{events: []TerminalEvent{{Kind: TerminalSubmit, Message: "hi"}}}

	runUntil(t, orch, term, 50, func() bool { return !primary.Idle() })
	runUntil(t, orch, &scriptedTerm{}, 50, func() bool { return primary.Idle() })

	if orch.Mode() != ModeNormalInput {
		t.Fatalf("expected ModeNormalInput once finished, got %v", orch.Mode())
	}
}

func TestOrchestratorToolApprovalGatesExecution(t *testing.T) {
	replayer := tape.NewReplayer(tape.NewTape(
		tape.ToolCallTurn("call-1", "echo", json.RawMessage(`{}`)),
		tape.TextTurn("done"),
	))
	reg := agent.NewToolRegistry(&stubEchoTool{name: "echo", result: models.ToolResult{Content: "ok"}})
	orch, registry := newTestOrchestrator(t, replayer, reg)
	primary, _ := registry.Get(0)

	term := &scriptedTerm{events: []TerminalEvent{{Kind: TerminalSubmit, Message: "use echo"}}}
	runUntil(t, orch, term, 50, func() bool { return orch.Mode() == ModeToolApproval })

	if orch.Mode() != ModeToolApproval {
		t.Fatalf("expected ModeToolApproval, got %v", orch.Mode())
	}

	approveTerm := &scriptedTerm{events: []TerminalEvent{{Kind: TerminalApprove}}}
	runUntil(t, orch, approveTerm, 50, func() bool { return primary.Idle() })

	if !primary.Idle() {
		t.Fatal("expected primary agent idle after tool approval completes the turn")
	}
}

func TestOrchestratorCancelResetsModeAndStopsAgent(t *testing.T) {
	replayer := tape.NewReplayer(tape.NewTape(tape.TextTurn("partial")))
	orch, registry := newTestOrchestrator(t, replayer, agent.EmptyToolRegistry())
	primary, _ := registry.Get(0)

	term := &scriptedTerm{events: []TerminalEvent{{Kind: TerminalSubmit, Message: "hi"}}}
	runUntil(t, orch, term, 10, func() bool { return !primary.Idle() })

	cancelTerm := &scriptedTerm{events: []TerminalEvent{{Kind: TerminalCancel}}}
	quit, err := orch.Run(context.Background(), cancelTerm)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if quit {
		t.Fatal("cancel should not quit")
	}
	if orch.Mode() != ModeNormalInput {
		t.Fatalf("expected ModeNormalInput after cancel, got %v", orch.Mode())
	}
	if !primary.Idle() {
		t.Fatal("expected primary agent idle after cancel")
	}
}

func TestOrchestratorQuit(t *testing.T) {
	orch, _ := newTestOrchestrator(t, tape.NewReplayer(tape.NewTape()), agent.EmptyToolRegistry())
	term := &scriptedTerm{events: []TerminalEvent{{Kind: TerminalQuit}}}
	quit, err := orch.Run(context.Background(), term)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !quit {
		t.Fatal("expected quit=true on TerminalQuit")
	}
}
