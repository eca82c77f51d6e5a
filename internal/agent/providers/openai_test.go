package providers

import (
	"encoding/json"
	"testing"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/pkg/models"
)

func TestConvertOpenAIMessagesIncludesSystemAndToolResult(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: models.RoleUser, Parts: []agent.ContentPart{{Kind: agent.PartText, Text: "list files"}}},
		{Role: models.RoleAssistant, Parts: []agent.ContentPart{
			{Kind: agent.PartToolUse, ToolCallID: "c1", ToolName: "shell", ToolParams: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: models.RoleUser, Parts: []agent.ContentPart{{Kind: agent.PartToolResult, ToolCallID: "c1", ToolResultContent: "a\nb\n"}}},
	}

	out, err := convertOpenAIMessages("be helpful", messages)
	if err != nil {
		t.Fatalf("convertOpenAIMessages() error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected system + 3 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be helpful" {
		t.Fatalf("expected leading system message, got %+v", out[0])
	}
	if out[3].Role != "tool" || out[3].Content != "a\nb\n" || out[3].ToolCallID != "c1" {
		t.Fatalf("expected tool-result message, got %+v", out[3])
	}
}

func TestConvertOpenAIToolsCarriesSchema(t *testing.T) {
	out := convertOpenAITools([]agent.ToolDefinition{{
		Name:        "shell",
		Description: "Run a shell command.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
	}})
	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
	if out[0].Function.Name != "shell" {
		t.Fatalf("expected shell tool, got %q", out[0].Function.Name)
	}
}
