package orchestrator

import (
	"context"

	"github.com/tcdent/codey/internal/agent"
	"github.com/tcdent/codey/internal/backoff"
	"github.com/tcdent/codey/internal/ide"
	"github.com/tcdent/codey/pkg/models"
)

// applyEffect enacts one delegated side effect that a tool completion
// queued up for the Orchestrator to carry out.
func (o *Orchestrator) applyEffect(ctx context.Context, parentID int, effect models.Effect) {
	switch e := effect.(type) {
	case models.SpawnAgentEffect:
		o.spawnAgent(parentID, e)
	case models.IdeOpenEffect:
		o.openInIDE(ctx, e)
	case models.NotifyEffect:
		o.raiseAlert(Alert{Message: e.Message})
	}
}

// spawnAgent builds a sub-agent runtime config (inheriting the primary's
// with the requested tool-access override), seeds its system prompt with
// sub-agent boilerplate plus optional context, sends the task as its
// first user message, and registers it.
func (o *Orchestrator) spawnAgent(parentID int, e models.SpawnAgentEffect) {
	access := e.Access
	if access == "" {
		access = o.subAgentConfig.DefaultAccess
	}

	var registry *agent.ToolRegistry
	switch access {
	case models.ToolAccessFull:
		registry = o.subAgentConfig.FullRegistry
	case models.ToolAccessReadOnly:
		registry = agent.ReadOnlyToolRegistry(o.subAgentConfig.FullRegistry, o.subAgentConfig.ReadOnlyNames...)
	default:
		registry = agent.EmptyToolRegistry()
	}

	systemPrompt := e.Context
	if o.subAgentConfig.SystemPrompt != nil {
		systemPrompt = o.subAgentConfig.SystemPrompt(e.Task, e.Context)
	}

	sub := agent.New(agent.Config{
		SystemPrompt:  systemPrompt,
		Provider:      o.subAgentConfig.Provider,
		Registry:      registry,
		Runtime:       o.subAgentConfig.Runtime,
		BackoffPolicy: backoff.DefaultPolicy(),
		Tracer:        o.subAgentConfig.Tracer,
		Metrics:       o.subAgentConfig.Metrics,
	})

	id := o.registry.RegisterSpawned(sub, e.Label, parentID)
	if err := sub.SendRequest(e.Task, models.ModeNormal); err != nil {
		o.log.Error("orchestrator: spawn agent send request", "error", err, "agent_id", id)
	}
}

func (o *Orchestrator) openInIDE(ctx context.Context, e models.IdeOpenEffect) {
	if o.ide == nil {
		return
	}
	action := ide.Action{Kind: ide.ActionNavigateTo, Path: e.Path, Line: e.Line, Column: e.Column}
	if err := o.ide.Execute(ctx, action); err != nil {
		o.log.Warn("orchestrator: ide navigate", "error", err, "path", e.Path)
	}
}
