package transcript

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/tcdent/codey/pkg/models"
)

func TestAddAndGetTurn(t *testing.T) {
	tr := WithPath(filepath.Join(t.TempDir(), "000000.json"))
	id := tr.AddTurn(models.RoleUser, models.NewTextBlock("hello"))
	turns := tr.Turns()
	if len(turns) != 1 || turns[0].ID != id {
		t.Fatalf("expected one turn with id %d, got %+v", id, turns)
	}
	if turns[0].Content[0].Text() != "hello" {
		t.Fatalf("unexpected content: %q", turns[0].Content[0].Text())
	}
}

func TestTurnStreaming(t *testing.T) {
	tr := WithPath(filepath.Join(t.TempDir(), "000000.json"))
	tr.BeginTurn(models.RoleAssistant)
	tr.StreamDelta(models.BlockText, "Hel")
	tr.StreamDelta(models.BlockText, "lo")
	if got := tr.ActiveBlock().Text(); got != "Hello" {
		t.Fatalf("expected merged delta, got %q", got)
	}
	tr.StreamDelta(models.BlockThinking, "pondering")
	if tr.ActiveBlock().Kind() != models.BlockThinking {
		t.Fatalf("expected switch to thinking block")
	}
	turn := tr.Turns()[0]
	if turn.Content[0].Status() != models.StatusComplete {
		t.Fatalf("expected first block completed once superseded")
	}
	if err := tr.FinishTurn(); err != nil {
		t.Fatalf("finish turn: %v", err)
	}
	if turn.Content[1].Status() != models.StatusComplete {
		t.Fatalf("expected active block completed on finish")
	}
}

func TestTranscriptSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	tr := WithPath(filepath.Join(dir, "000000.json"))
	tr.AddTurn(models.RoleUser, models.NewTextBlock("hi"))
	tr.BeginTurn(models.RoleAssistant)
	tr.StreamDelta(models.BlockText, "hello there")
	if err := tr.FinishTurn(); err != nil {
		t.Fatalf("finish turn: %v", err)
	}

	reloaded, err := load(tr.Path())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(reloaded.Turns()) != len(tr.Turns()) {
		t.Fatalf("turn count mismatch: got %d want %d", len(reloaded.Turns()), len(tr.Turns()))
	}
	for i, turn := range reloaded.Turns() {
		want := tr.Turns()[i]
		if turn.Role != want.Role || len(turn.Content) != len(want.Content) {
			t.Fatalf("turn %d mismatch: %+v vs %+v", i, turn, want)
		}
		for j, b := range turn.Content {
			if b.Text() != want.Content[j].Text() || b.Kind() != want.Content[j].Kind() {
				t.Fatalf("block %d/%d mismatch: %+v vs %+v", i, j, b, want.Content[j])
			}
		}
	}
}

func TestTranscriptSaveLoadWithToolBlocks(t *testing.T) {
	dir := t.TempDir()
	tr := WithPath(filepath.Join(dir, "000000.json"))
	tr.BeginTurn(models.RoleAssistant)
	tb := models.NewToolBlock("call-1", "shell", json.RawMessage(`{"command":"ls"}`), false)
	tr.StartBlock(tb)
	tr.ActiveBlock().AppendText("file1\nfile2\n")
	tr.MarkActiveBlock(models.StatusComplete)
	if err := tr.FinishTurn(); err != nil {
		t.Fatalf("finish turn: %v", err)
	}

	reloaded, err := load(tr.Path())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := reloaded.FindToolBlockMut("call-1")
	if got == nil {
		t.Fatalf("expected to find tool block by call id")
	}
	if got.ToolName() != "shell" || got.Text() != "file1\nfile2\n" {
		t.Fatalf("unexpected tool block: %+v", got)
	}
	if string(got.Params()) != `{"command":"ls"}` {
		t.Fatalf("unexpected params: %s", got.Params())
	}
}

func TestRotateCarriesCompactionBlock(t *testing.T) {
	workspace := t.TempDir()
	tr, err := NewNumbered(workspace)
	if err != nil {
		t.Fatalf("new numbered: %v", err)
	}
	tr.AddTurn(models.RoleUser, models.NewTextBlock("do a thing"))
	tr.BeginTurn(models.RoleAssistant)
	tr.StreamDelta(models.BlockCompaction, "summary of everything so far")
	if err := tr.FinishTurn(); err != nil {
		t.Fatalf("finish turn: %v", err)
	}

	next, err := tr.Rotate(workspace)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(next.Turns()) != 1 {
		t.Fatalf("expected carried compaction turn, got %d turns", len(next.Turns()))
	}
	carried := next.Turns()[0]
	if len(carried.Content) != 1 || carried.Content[0].Kind() != models.BlockCompaction {
		t.Fatalf("expected single compaction block carried over, got %+v", carried.Content)
	}
	if carried.Content[0].Text() != "summary of everything so far" {
		t.Fatalf("unexpected carried text: %q", carried.Content[0].Text())
	}
	if filepath.Base(next.Path()) == filepath.Base(tr.Path()) {
		t.Fatalf("expected rotate to advance the numbered file, got same path %s", next.Path())
	}
}

func TestRotateWithoutCompactionStartsEmpty(t *testing.T) {
	workspace := t.TempDir()
	tr, err := NewNumbered(workspace)
	if err != nil {
		t.Fatalf("new numbered: %v", err)
	}
	tr.AddTurn(models.RoleUser, models.NewTextBlock("hi"))
	next, err := tr.Rotate(workspace)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(next.Turns()) != 0 {
		t.Fatalf("expected empty transcript after rotate with no compaction, got %d turns", len(next.Turns()))
	}
}

func load(path string) (*Transcript, error) {
	return LoadPath(path)
}
