package compaction

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaIsValidJSON(t *testing.T) {
	raw, err := Schema()
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Schema() produced invalid JSON: %v", err)
	}
}

func TestParseRoundTrip(t *testing.T) {
	raw := `{"accomplished":["wrote tests"],"remaining":["ship it"],"project_info":"Go module","relevant_files":["main.go"]}`
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(s.Accomplished) != 1 || s.Accomplished[0] != "wrote tests" {
		t.Fatalf("unexpected accomplished: %+v", s.Accomplished)
	}
	if s.ProjectInfo != "Go module" {
		t.Fatalf("unexpected project_info: %q", s.ProjectInfo)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse("not json"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRenderIncludesAllSections(t *testing.T) {
	out := Render(Summary{
		Accomplished:  []string{"a"},
		Remaining:     []string{"b"},
		ProjectInfo:   "c",
		RelevantFiles: []string{"d.go"},
	})
	for _, want := range []string{"### Accomplished", "- a", "### Remaining", "- b", "### Project info", "c", "### Relevant files", "`d.go`"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected render to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderOmitsEmptySections(t *testing.T) {
	out := Render(Summary{ProjectInfo: "only this"})
	if strings.Contains(out, "### Accomplished") {
		t.Fatalf("expected no Accomplished section, got:\n%s", out)
	}
	if !strings.Contains(out, "only this") {
		t.Fatalf("expected project info, got:\n%s", out)
	}
}
