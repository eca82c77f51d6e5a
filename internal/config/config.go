// Package config loads the runtime configuration for the agent core: the
// LLM provider selection, tool filters, sub-agent defaults, and auth
// collaborator settings.
package config

import (
	"github.com/tcdent/codey/pkg/models"
)

// Config is the top-level on-disk configuration document.
type Config struct {
	LLM           LLMConfig                         `toml:"llm"`
	Tools         map[string]models.ToolFilterConfig `toml:"tools"`
	SubAgents     SubAgentsConfig                    `toml:"sub_agents"`
	Auth          AuthConfig                         `toml:"auth"`
	Observability ObservabilityConfig                `toml:"observability"`
	Jobs          JobsConfig                         `toml:"jobs"`
}

// JobsConfig controls the background-tool-call job store. Leaving
// StorePath empty keeps the default in-memory store, which loses
// queued/running background jobs across a restart.
type JobsConfig struct {
	StorePath string `toml:"store_path"`
}

// SubAgentsConfig controls defaults applied to spawned sub-agents.
type SubAgentsConfig struct {
	DefaultAccess string `toml:"default_access"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

// ObservabilityConfig controls the optional tracing/metrics collaborators.
// Leaving TraceEndpoint empty yields a no-op tracer; metrics collection
// itself has no off switch since recording into an in-process registry
// has no external cost.
type ObservabilityConfig struct {
	ServiceName   string            `toml:"service_name"`
	TraceEndpoint string            `toml:"trace_endpoint"`
	TraceSampling float64           `toml:"trace_sampling"`
	TraceInsecure bool              `toml:"trace_insecure"`
	TraceAttrs    map[string]string `toml:"trace_attributes"`
	MetricsAddr   string            `toml:"metrics_addr"`
}

// RuntimeConfig builds the reduced AgentRuntimeConfig the core consumes,
// applying defaults for anything the document left zero.
func (c *Config) RuntimeConfig() models.AgentRuntimeConfig {
	rc := models.AgentRuntimeConfig{
		Model:                    c.LLM.Model,
		MaxTokens:                c.LLM.MaxTokens,
		ThinkingBudget:           c.LLM.ThinkingBudget,
		MaxRetries:               c.LLM.MaxRetries,
		CompactionThinkingBudget: c.LLM.CompactionThinkingBudget,
		CompactionThreshold:      c.LLM.CompactionThreshold,
	}
	if rc.MaxTokens == 0 {
		rc.MaxTokens = 8192
	}
	if rc.MaxRetries == 0 {
		rc.MaxRetries = 3
	}
	if rc.CompactionThreshold == 0 {
		rc.CompactionThreshold = 150_000
	}
	return rc
}

// DefaultSubAgentAccess returns the ToolAccess level new sub-agents get
// unless a spawn request overrides it.
func (c *Config) DefaultSubAgentAccess() models.ToolAccess {
	switch c.SubAgents.DefaultAccess {
	case "full":
		return models.ToolAccessFull
	case "none":
		return models.ToolAccessNone
	default:
		return models.ToolAccessReadOnly
	}
}
