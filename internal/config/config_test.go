package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codey.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "anthropic"
model = "claude"
extra = true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesRuntimeDefaults(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "anthropic"
model = "claude-sonnet"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rc := cfg.RuntimeConfig()
	if rc.Model != "claude-sonnet" {
		t.Fatalf("unexpected model: %q", rc.Model)
	}
	if rc.MaxTokens != 8192 || rc.MaxRetries != 3 || rc.CompactionThreshold != 150_000 {
		t.Fatalf("expected defaults applied, got %+v", rc)
	}
}

func TestLoadToolFilters(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "anthropic"
model = "claude"

[tools.shell]
deny = ["rm -rf.*"]
allow = [".*"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	shell, ok := cfg.Tools["shell"]
	if !ok {
		t.Fatalf("expected shell tool filter")
	}
	if len(shell.Deny) != 1 || shell.Deny[0] != "rm -rf.*" {
		t.Fatalf("unexpected deny list: %+v", shell.Deny)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.toml")
	if err := os.WriteFile(basePath, []byte(`
[llm]
provider = "anthropic"
model = "claude"
`), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}
	mainPath := filepath.Join(dir, "codey.toml")
	if err := os.WriteFile(mainPath, []byte(`
include = "base.toml"

[llm]
max_tokens = 4096
`), 0o644); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Model != "claude" {
		t.Fatalf("expected included model to survive merge, got %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Fatalf("expected overriding max_tokens, got %d", cfg.LLM.MaxTokens)
	}
}

func TestDefaultSubAgentAccess(t *testing.T) {
	cfg := &Config{}
	if got := cfg.DefaultSubAgentAccess(); got != "read_only" {
		t.Fatalf("expected read_only default, got %q", got)
	}
}
