package agent

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tcdent/codey/pkg/models"
)

// compiledFilter is one tool's compiled allow/deny pattern lists.
type compiledFilter struct {
	deny  []*regexp.Regexp
	allow []*regexp.Regexp
}

// ToolFilters holds every tool's compiled filter and decides whether a
// given call needs user approval, is auto-approved, or is auto-denied.
// Deny is checked before allow; an empty filter (or no filter for a tool)
// always falls through to "ask the user."
type ToolFilters struct {
	byTool map[string]compiledFilter
}

// NewToolFilters compiles raw per-tool configuration into regexes. It
// fails closed: a bad regex anywhere is a fatal configuration error, not a
// per-tool warning.
func NewToolFilters(raw map[string]models.ToolFilterConfig) (*ToolFilters, error) {
	filters := &ToolFilters{byTool: make(map[string]compiledFilter, len(raw))}
	for tool, cfg := range raw {
		var cf compiledFilter
		for _, pattern := range cfg.Deny {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("tool %q deny pattern %q: %w", tool, pattern, err)
			}
			cf.deny = append(cf.deny, re)
		}
		for _, pattern := range cfg.Allow {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("tool %q allow pattern %q: %w", tool, pattern, err)
			}
			cf.allow = append(cf.allow, re)
		}
		filters.byTool[tool] = cf
	}
	return filters, nil
}

// primaryParam extracts the parameter a filter is evaluated against, per
// tool. Tools without a recognized primary parameter fall back to
// "command".
func primaryParam(toolName string, params json.RawMessage) string {
	key := "command"
	switch toolName {
	case "shell":
		key = "command"
	case "read_file", "write_file", "edit_file":
		key = "path"
	case "fetch_url":
		key = "url"
	}
	var decoded map[string]any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return ""
	}
	if v, ok := decoded[key].(string); ok {
		return v
	}
	return ""
}

// Decide evaluates a pending ToolCall. A nil return means no rule matched
// either list and the Tool Executor must ask the user. A non-nil
// DecisionApprove/DecisionDeny means the filter settled it automatically.
func (f *ToolFilters) Decide(call models.ToolCall) *models.ToolDecision {
	cf, ok := f.byTool[call.Name]
	if !ok {
		return nil
	}
	value := primaryParam(call.Name, call.Params)
	for _, re := range cf.deny {
		if re.MatchString(value) {
			d := models.DecisionDeny
			return &d
		}
	}
	for _, re := range cf.allow {
		if re.MatchString(value) {
			d := models.DecisionApprove
			return &d
		}
	}
	return nil
}
