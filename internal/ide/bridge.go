// Package ide implements the optional IDE bridge collaborator: an RPC
// adapter exposing preview/navigate actions and a selection-change event
// source, discovered by socket path in order (explicit path →
// tmux-session-derived → environment variable). If no socket is found,
// Discover returns (nil, nil) and the core runs without previews.
package ide

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ActionKind discriminates the concrete Action variants.
type ActionKind string

const (
	ActionNavigateTo ActionKind = "navigate_to"
)

// Action is a command sent to the IDE over the bridge.
type Action struct {
	Kind   ActionKind
	Path   string
	Line   int
	Column int
}

// ToolPreview is the pre-approval preview artifact handed to the IDE
// before a tool call is approved.
type ToolPreview struct {
	CallID   string
	ToolName string
	Params   json.RawMessage
}

// Selection is the IDE's current editor selection, or absent.
type Selection struct {
	Path      string
	Content   string
	StartLine int
	EndLine   int
}

// Bridge is the contract the Orchestrator drives: show/close a tool
// preview, execute a navigation action, and a channel of selection-change
// events. Implementations that can't reach a live IDE should not be
// constructed at all; the Orchestrator treats a nil Bridge as "absent."
type Bridge interface {
	ShowPreview(ctx context.Context, preview ToolPreview) error
	ClosePreview(ctx context.Context) error
	Execute(ctx context.Context, action Action) error
	SelectionChanges() <-chan *Selection
	Close() error
}

// DiscoverySocketPath resolves the bridge's Unix socket path using a
// fixed order: an explicit path, a tmux-session-derived path, or the
// CODEY_IDE_SOCKET environment variable. Returns "" if none resolve.
func DiscoverySocketPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
	}
	if path, ok := tmuxSocketPath(); ok {
		return path
	}
	if path := os.Getenv("CODEY_IDE_SOCKET"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// tmuxSocketPath derives a candidate socket path from the current tmux
// session name, the convention the out-of-scope editor extension uses
// when it registers its RPC socket alongside the session.
func tmuxSocketPath() (string, bool) {
	out, err := exec.Command("tmux", "display-message", "-p", "#S").Output()
	if err != nil {
		return "", false
	}
	session := strings.TrimSpace(string(out))
	if session == "" {
		return "", false
	}
	path := fmt.Sprintf("/tmp/codey-ide-%s.sock", session)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Discover looks for an IDE bridge socket and, if found, returns a
// connected Bridge. It returns (nil, nil) — not an error — when no
// socket is found: the IDE bridge is then simply absent and the core
// functions without previews.
func Discover(ctx context.Context, explicitPath string) (Bridge, error) {
	path := DiscoverySocketPath(explicitPath)
	if path == "" {
		return nil, nil
	}
	return newSocketBridge(ctx, path)
}

// watchSocketDir uses fsnotify to detect the bridge socket appearing or
// disappearing after Discover's initial check came up empty, so a
// long-running session can pick up a /tmp/codey-ide-*.sock) created by
// the editor extension after this process started.
func watchSocketDir(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ide: create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("ide: watch %s: %w", dir, err)
	}
	return w, nil
}
