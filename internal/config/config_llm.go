package config

// LLMConfig selects the model and request-shaping knobs the Agent's
// AgentRuntimeConfig is built from.
type LLMConfig struct {
	Provider                 string `toml:"provider"`
	Model                    string `toml:"model"`
	APIKey                   string `toml:"api_key"`
	BaseURL                  string `toml:"base_url"`
	MaxTokens                int    `toml:"max_tokens"`
	ThinkingBudget           int    `toml:"thinking_budget"`
	MaxRetries               int    `toml:"max_retries"`
	CompactionThinkingBudget int    `toml:"compaction_thinking_budget"`
	CompactionThreshold      int64  `toml:"compaction_threshold"`
}
