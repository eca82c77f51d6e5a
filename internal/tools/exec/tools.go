package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tcdent/codey/pkg/models"
)

// ExecTool runs shell commands, streaming a single terminal result. The
// background flag is handled by the caller (the Tool Executor), which
// treats a background ToolCall as fire-and-forget against the jobs store;
// ExecTool itself always runs synchronously to completion or cancellation.
type ExecTool struct {
	name    string
	manager *Manager
}

// NewExecTool creates an exec tool with the given name.
func NewExecTool(name string, manager *Manager) *ExecTool {
	if strings.TrimSpace(name) == "" {
		name = "shell"
	}
	return &ExecTool{name: name, manager: manager}
}

func (t *ExecTool) Name() string { return t.name }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace."
}

func (t *ExecTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"env": map[string]any{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]any{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (0 = no timeout).",
				"minimum":     0,
			},
			"background": map[string]any{
				"type":        "boolean",
				"description": "Run without blocking the foreground approval gate.",
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (<-chan models.ToolOutput, error) {
	out := make(chan models.ToolOutput, 1)
	if t.manager == nil {
		out <- doneError("exec manager unavailable")
		close(out)
		return out, nil
	}
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		out <- doneError(fmt.Sprintf("invalid parameters: %v", err))
		close(out)
		return out, nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		out <- doneError("command is required")
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		timeout := time.Duration(input.TimeoutSeconds) * time.Second
		result, err := t.manager.runSync(ctx, command, input.Cwd, input.Env, input.Input, timeout)
		if err != nil {
			out <- doneError(err.Error())
			return
		}
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			out <- doneError(fmt.Sprintf("encode result: %v", err))
			return
		}
		select {
		case out <- models.ToolOutput{Kind: models.ToolOutputDone, Result: &models.ToolResult{Content: string(payload), IsError: result.ExitCode != 0}}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func doneError(message string) models.ToolOutput {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return models.ToolOutput{Kind: models.ToolOutputDone, Result: &models.ToolResult{Content: string(payload), IsError: true}}
}
