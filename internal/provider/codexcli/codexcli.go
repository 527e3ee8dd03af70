// Package codexcli drives the Codex CLI as a model backend. The tool
// emits item-type JSONL (thread.started / item.started / item.completed)
// and resumes threads by id. Its output formatting differs when it
// detects a TTY, so calls run under a pseudo-terminal by default.
package codexcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/norm/timeline-daemon/internal/agentstream"
	"github.com/norm/timeline-daemon/internal/attachments"
	"github.com/norm/timeline-daemon/internal/engine"
	"github.com/norm/timeline-daemon/internal/shellexec"
)

const (
	toolName  = "codex"
	setupHint = "install the Codex CLI (npm install -g @openai/codex) and run `codex login`"
)

// Config holds the Codex CLI backend configuration.
type Config struct {
	Model   string
	Workdir string
	Timeout time.Duration
}

// Caller implements engine.Caller over the Codex CLI.
type Caller struct {
	cfg Config
}

func New(cfg Config) (*Caller, error) {
	if cfg.Workdir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("codexcli: home dir: %w", err)
		}
		cfg.Workdir = filepath.Join(home, ".local", "share", "timelined", "codex-workdir")
	}
	if err := attachments.EnsureWorkdir(cfg.Workdir); err != nil {
		return nil, err
	}
	return &Caller{cfg: cfg}, nil
}

func (c *Caller) ID() string { return "codex" }

func (c *Caller) Complete(ctx context.Context, req engine.Request) (*engine.Response, error) {
	spec := c.spec(req)
	result, err := agentstream.CollectChunks(shellexec.Stream(ctx, spec))
	if err != nil {
		return nil, fmt.Errorf("codexcli: %w", err)
	}
	return &engine.Response{
		Text:      result.Text,
		SessionID: result.SessionID,
		Model:     c.cfg.Model,
	}, nil
}

func (c *Caller) Stream(ctx context.Context, req engine.Request) <-chan agentstream.Event {
	return agentstream.Events(shellexec.Stream(ctx, c.spec(req)))
}

func (c *Caller) spec(req engine.Request) shellexec.Spec {
	args := []string{toolName, "exec", "--json", "--skip-git-repo-check"}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if req.SessionID != "" {
		args = append(args, "resume", req.SessionID)
	}
	for _, p := range req.Attachments {
		args = append(args, "--image", p)
	}
	// Prompt rides on stdin to dodge shell quoting entirely.
	args = append(args, "-")

	return shellexec.Spec{
		Command:   strings.Join(args, " "),
		Tool:      toolName,
		SetupHint: setupHint,
		Stdin:     req.Prompt,
		Timeout:   c.cfg.Timeout,
		UsePty:    true,
		Dir:       c.cfg.Workdir,
	}
}
