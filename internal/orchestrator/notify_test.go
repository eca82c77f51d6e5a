package orchestrator

import "testing"

func TestDrainInjectableFiltersCommands(t *testing.T) {
	q := NewNotificationQueue()
	q.Push(Notification{Kind: NotifyUserMessage, Text: "msg1"})
	q.Push(Notification{Kind: NotifyCommand, Text: "help"})
	q.Push(Notification{Kind: NotifyUserMessage, Text: "msg2"})

	injectable := q.DrainInjectable()
	if len(injectable) != 2 {
		t.Fatalf("expected 2 injectable notifications, got %d", len(injectable))
	}
	if q.Empty() {
		t.Fatal("expected the command notification to remain queued")
	}
	remaining := q.DrainAll()
	if len(remaining) != 1 || remaining[0].Kind != NotifyCommand {
		t.Fatalf("expected the command to survive DrainInjectable, got %+v", remaining)
	}
}

func TestDrainAllTakesEverything(t *testing.T) {
	q := NewNotificationQueue()
	q.Push(Notification{Kind: NotifyCompactionRequest})
	q.Push(Notification{Kind: NotifyBackgroundToolComplete, Text: "done"})

	all := q.DrainAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(all))
	}
	if !q.Empty() {
		t.Fatal("expected the queue to be empty after DrainAll")
	}
}

func TestBackgroundCompletionsCanInterrupt(t *testing.T) {
	tool := Notification{Kind: NotifyBackgroundToolComplete}
	agentDone := Notification{Kind: NotifyBackgroundAgentComplete}
	if !tool.canInterrupt() || !agentDone.canInterrupt() {
		t.Fatal("expected background completions to be injectable")
	}
	if (Notification{Kind: NotifyCompactionRequest}).canInterrupt() {
		t.Fatal("expected compaction requests to wait for idle")
	}
}
