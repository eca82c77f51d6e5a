package agent

import (
	"context"
	"testing"

	"github.com/tcdent/codey/internal/agent/tape"
	"github.com/tcdent/codey/pkg/models"
)

func TestRegistryNextReturnsFirstReadyAgent(t *testing.T) {
	r := NewRegistry()

	idle := newTestAgent(t, tape.NewReplayer(tape.NewTape()))
	r.Register(idle)

	busy := newTestAgent(t, tape.NewReplayer(tape.NewTape(tape.TextTurn("hi"))))
	id := r.RegisterSpawned(busy, "worker", 0)
	if err := busy.SendRequest("go", models.ModeNormal); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	gotID, step, ok, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true, some agent has work")
	}
	if gotID != id {
		t.Fatalf("expected winner id %d, got %d", id, gotID)
	}
	if step.Kind == StepNone {
		t.Fatalf("expected a non-None step, got %v", step.Kind)
	}
}

func TestRegistryNextAllIdleReturnsNotOK(t *testing.T) {
	r := NewRegistry()
	r.Register(newTestAgent(t, tape.NewReplayer(tape.NewTape())))

	_, _, ok, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when every agent is idle")
	}
}

func TestRegistryRemoveDropsAgent(t *testing.T) {
	r := NewRegistry()
	r.Register(newTestAgent(t, tape.NewReplayer(tape.NewTape())))
	id := r.RegisterSpawned(newTestAgent(t, tape.NewReplayer(tape.NewTape())), "sub", 0)

	r.Remove(id)
	if _, ok := r.Get(id); ok {
		t.Fatal("expected agent to be removed")
	}
	if _, ok := r.Meta(id); ok {
		t.Fatal("expected metadata to be removed")
	}
}
