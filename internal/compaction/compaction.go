// Package compaction implements a structured compaction-summary shape:
// a typed Summary (rather than a free-text blob), a JSON schema an
// Agent's compaction-mode chat request asks the model to follow, and a
// fixed Markdown rendering that seeds Agent.ResetWithSummary.
package compaction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Summary is a compaction turn's structured output.
type Summary struct {
	Accomplished  []string `json:"accomplished" jsonschema_description:"Tasks completed so far in this conversation."`
	Remaining     []string `json:"remaining" jsonschema_description:"Outstanding work still to do."`
	ProjectInfo   string   `json:"project_info" jsonschema_description:"Key facts about the project: layout, conventions, constraints."`
	RelevantFiles []string `json:"relevant_files" jsonschema_description:"File paths still relevant to the remaining work."`
}

// Schema returns the JSON schema a compaction-mode ChatRequest should
// attach so the model's response can be parsed with Parse.
func Schema() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(&Summary{})
	payload, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("compaction: marshal schema: %w", err)
	}
	return payload, nil
}

// Parse decodes a compaction turn's raw text into a Summary.
func Parse(raw string) (Summary, error) {
	var s Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Summary{}, fmt.Errorf("compaction: parse summary: %w", err)
	}
	return s, nil
}

// Render renders a Summary to the fixed Markdown template stored as the
// CompactionBlock's text and carried forward by transcript.Rotate, and
// passed to Agent.ResetWithSummary as the sole synthetic user message
// that seeds the next round.
func Render(s Summary) string {
	var b strings.Builder
	b.WriteString("## Conversation summary\n\n")
	if len(s.Accomplished) > 0 {
		b.WriteString("### Accomplished\n")
		for _, item := range s.Accomplished {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
	if len(s.Remaining) > 0 {
		b.WriteString("### Remaining\n")
		for _, item := range s.Remaining {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
	if s.ProjectInfo != "" {
		b.WriteString("### Project info\n")
		b.WriteString(s.ProjectInfo)
		b.WriteString("\n\n")
	}
	if len(s.RelevantFiles) > 0 {
		b.WriteString("### Relevant files\n")
		for _, f := range s.RelevantFiles {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
