package files

import (
	"encoding/json"

	"github.com/tcdent/codey/pkg/models"
)

// emitDone wraps a synchronously-computed result as the single
// ToolOutputDone value these tools ever produce (they don't stream
// partial output the way exec.ExecTool does).
func emitDone(content string, isError bool) (<-chan models.ToolOutput, error) {
	out := make(chan models.ToolOutput, 1)
	out <- models.ToolOutput{Kind: models.ToolOutputDone, Result: &models.ToolResult{Content: content, IsError: isError}}
	close(out)
	return out, nil
}

// emitError is emitDone for the common "well-formed failure" case: a
// JSON error envelope with IsError set.
func emitError(message string) (<-chan models.ToolOutput, error) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return emitDone(message, true)
	}
	return emitDone(string(payload), true)
}
