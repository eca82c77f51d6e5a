package providers

import (
	"encoding/json"
	"testing"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/pkg/models"
)

func TestConvertMessagesRoundTripsTextAndToolUse(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: models.RoleUser, Parts: []agent.ContentPart{{Kind: agent.PartText, Text: "list files"}}},
		{Role: models.RoleAssistant, Parts: []agent.ContentPart{
			{Kind: agent.PartText, Text: "Running ls."},
			{Kind: agent.PartToolUse, ToolCallID: "c1", ToolName: "shell", ToolParams: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: models.RoleUser, Parts: []agent.ContentPart{{Kind: agent.PartToolResult, ToolCallID: "c1", ToolResultContent: "a\nb\n"}}},
	}

	out, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
}

func TestConvertMessagesSkipsEmptyMessage(t *testing.T) {
	out, err := convertMessages([]agent.ChatMessage{{Role: models.RoleUser, Parts: nil}})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty message to be skipped, got %d", len(out))
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	_, err := convertTools([]agent.ToolDefinition{{Name: "shell", Schema: json.RawMessage(`not json`)}})
	if err == nil {
		t.Fatalf("expected error for invalid schema")
	}
}

func TestConvertToolsCarriesDescription(t *testing.T) {
	out, err := convertTools([]agent.ToolDefinition{{
		Name:        "shell",
		Description: "Run a shell command.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
	}})
	if err != nil {
		t.Fatalf("convertTools() error = %v", err)
	}
	if len(out) != 1 || out[0].OfTool == nil {
		t.Fatalf("expected one tool union param")
	}
}
