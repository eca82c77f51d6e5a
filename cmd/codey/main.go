// Package main provides the CLI entry point for codey, a terminal-based
// AI coding assistant built around the agent/tool/transcript core
// described in the core specification.
//
// # Basic Usage
//
// Start an interactive session in the current directory:
//
//	codey run
//
// Use a specific configuration file:
//
//	codey run --config codey.toml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - CODEY_IDE_SOCKET: explicit IDE bridge socket path
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/internal/agent/providers"
	"github.com/tcdent/codey/internal/auth"
	"github.com/tcdent/codey/internal/backoff"
	"github.com/tcdent/codey/internal/config"
	"github.com/tcdent/codey/internal/ide"
	"github.com/tcdent/codey/internal/jobs"
	"github.com/tcdent/codey/internal/observability"
	"github.com/tcdent/codey/internal/orchestrator"
	"github.com/tcdent/codey/internal/toolexec"
	"github.com/tcdent/codey/internal/tools/exec"
	"github.com/tcdent/codey/internal/tools/files"
	"github.com/tcdent/codey/internal/transcript"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	workspace  string
	ideSocket  string
)

func main() {
	root := &cobra.Command{
		Use:     "codey",
		Short:   "A terminal-based AI coding assistant",
		Version: fmt.Sprintf("%s (%s, %s)", version, commit, date),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "codey.toml", "path to config.toml")
	root.PersistentFlags().StringVar(&workspace, "workspace", ".", "workspace root")
	root.PersistentFlags().StringVar(&ideSocket, "ide-socket", "", "explicit IDE bridge socket path")
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session against the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context())
		},
	}
}

func runSession(ctx context.Context) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	runtimeCfg := cfg.RuntimeConfig()

	var provider agent.LLMProvider
	switch cfg.LLM.Provider {
	case "openai":
		provider = providers.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	default:
		provider = providers.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	}

	authMgr, err := buildAuthManager(cfg)
	if err != nil {
		return fmt.Errorf("build auth manager: %w", err)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "codey",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.TraceEndpoint,
		SamplingRate:   cfg.Observability.TraceSampling,
		Attributes:     cfg.Observability.TraceAttrs,
		EnableInsecure: cfg.Observability.TraceInsecure,
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()
	metrics := observability.NewMetrics()
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	filters, err := agent.NewToolFilters(cfg.Tools)
	if err != nil {
		return fmt.Errorf("compile tool filters: %w", err)
	}

	fullRegistry := buildToolRegistry(workspace)

	t, err := transcript.Load(workspace)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	primary := agent.New(agent.Config{
		SystemPrompt:  defaultSystemPrompt(),
		Provider:      provider,
		Registry:      fullRegistry,
		AuthManager:   authMgr,
		Runtime:       runtimeCfg,
		BackoffPolicy: backoff.DefaultPolicy(),
		Tracer:        tracer,
		Metrics:       metrics,
	})
	primary.RestoreFromTranscript(t)

	registry := agent.NewRegistry()
	registry.Register(primary)

	var jobStore jobs.Store
	if path := cfg.Jobs.StorePath; path != "" {
		sqliteStore, err := jobs.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer sqliteStore.Close()
		jobStore = sqliteStore
	} else {
		jobStore = jobs.NewMemoryStore()
	}
	executor := toolexec.New(fullRegistry, filters, jobStore).WithObservability(tracer, metrics)

	bridge, err := ide.Discover(ctx, ideSocket)
	if err != nil {
		log.Warn("ide bridge discovery failed, continuing without previews", "error", err)
	}

	subAgents := orchestrator.SubAgentPolicy{
		Runtime:       runtimeCfg,
		Provider:      provider,
		FullRegistry:  fullRegistry,
		ReadOnlyNames: []string{"read", "fetch_url"},
		DefaultAccess: cfg.DefaultSubAgentAccess(),
		SystemPrompt:  subAgentSystemPrompt,
		Tracer:        tracer,
		Metrics:       metrics,
	}

	timeline := observability.NewEventRecorder(observability.NewMemoryEventStore(0), observability.NewLogger(observability.LogConfig{Level: "debug"}))
	orch := orchestrator.New(log, t, registry, executor, bridge, nil, workspace, runtimeCfg.CompactionThreshold, subAgents).
		WithTimeline(timeline).
		WithTracer(tracer, workspace)

	term := &stdinTerminal{reader: bufio.NewReader(os.Stdin)}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-sigCtx.Done():
			return nil
		default:
		}
		quit, err := orch.Run(sigCtx, term)
		if err != nil {
			log.Error("orchestrator loop error", "error", err)
			return err
		}
		if quit {
			return nil
		}
	}
}

func buildAuthManager(cfg *config.Config) (*auth.Manager, error) {
	path := cfg.Auth.OAuth.CredentialsPath
	if path == "" {
		path = ".codey/credentials.json"
	}
	refresher := auth.NewOAuthRefresher(cfg.Auth.OAuth.ClientID, cfg.Auth.OAuth.ClientSecret, cfg.Auth.OAuth.TokenURL)
	mgr, err := auth.NewManager(auth.NewStore(path), refresher)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.APIKey != "" {
		mgr.SetCredentials(auth.Credentials{Mode: auth.ModeAPIKey, APIKey: cfg.Auth.APIKey})
	}
	return mgr, nil
}

func buildToolRegistry(workspace string) *agent.ToolRegistry {
	filesCfg := files.Config{Workspace: workspace}
	mgr := exec.NewManager(workspace)
	return agent.NewToolRegistry(
		files.NewReadTool(filesCfg),
		files.NewWriteTool(filesCfg),
		files.NewEditTool(filesCfg),
		files.NewApplyPatchTool(filesCfg),
		exec.NewExecTool("shell", mgr),
	)
}

func defaultSystemPrompt() string {
	return "You are codey, a terminal-based AI coding assistant. " +
		"You have tools to read, write, and edit files, apply patches, and run " +
		"shell commands in the workspace. Use them to accomplish the user's request."
}

func subAgentSystemPrompt(task, context string) string {
	prompt := "You are a sub-agent spawned to accomplish a focused task: " + task + "."
	if context != "" {
		prompt += "\n\nContext:\n" + context
	}
	return prompt
}

// stdinTerminal is a minimal TerminalSource reading newline-delimited
// input from stdin. The real terminal renderer (raw mode, key chords,
// approval dialogs) is an out-of-scope external collaborator; this
// stands in for it so the core loop is drivable from a plain terminal
// without that component.
type stdinTerminal struct {
	reader *bufio.Reader
}

func (s *stdinTerminal) Next(ctx context.Context) (orchestrator.TerminalEvent, bool) {
	type result struct {
		line string
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		line, err := s.reader.ReadString('\n')
		lines <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return orchestrator.TerminalEvent{}, false
	case r := <-lines:
		if r.err != nil {
			return orchestrator.TerminalEvent{Kind: orchestrator.TerminalQuit}, true
		}
		switch line := trimNewline(r.line); line {
		case "":
			return orchestrator.TerminalEvent{}, false
		case "/quit", "/exit":
			return orchestrator.TerminalEvent{Kind: orchestrator.TerminalQuit}, true
		case "/cancel":
			return orchestrator.TerminalEvent{Kind: orchestrator.TerminalCancel}, true
		case "/approve", "y":
			return orchestrator.TerminalEvent{Kind: orchestrator.TerminalApprove}, true
		case "/deny", "n":
			return orchestrator.TerminalEvent{Kind: orchestrator.TerminalDeny}, true
		default:
			return orchestrator.TerminalEvent{Kind: orchestrator.TerminalSubmit, Message: line}, true
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
