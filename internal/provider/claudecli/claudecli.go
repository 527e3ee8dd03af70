// Package claudecli drives the Claude Code CLI as a model backend. The
// tool emits stream-json lines (the stream-event schema) and supports
// resumable sessions, which the engine uses for correction-only retries.
package claudecli

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
	toolName  = "claude"
	setupHint = "install the Claude CLI (npm install -g @anthropic-ai/claude-code) and run `claude` once to sign in"
)

// Config holds the Claude CLI backend configuration.
type Config struct {
	// Model passed as --model. Empty uses the CLI default.
	Model string

	// Workdir is the directory the CLI runs in; created idempotently
	// before first use. Empty uses a per-user default.
	Workdir string

	// Timeout per call. Zero uses shellexec.DefaultTimeout.
	Timeout time.Duration

	// UsePty allocates a pseudo-terminal. The CLI prints clean JSON over
	// pipes in -p mode, so this is off by default.
	UsePty bool
}

// Caller implements engine.Caller over the Claude CLI.
type Caller struct {
	cfg Config
}

func New(cfg Config) (*Caller, error) {
	if cfg.Workdir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("claudecli: home dir: %w", err)
		}
		cfg.Workdir = filepath.Join(home, ".local", "share", "timelined", "claude-workdir")
	}
	if err := attachments.EnsureWorkdir(cfg.Workdir); err != nil {
		return nil, err
	}
	return &Caller{cfg: cfg}, nil
}

func (c *Caller) ID() string { return "claude" }

// Complete runs one prompt through `claude -p` and returns the terminal
// text plus the session id for resumption.
func (c *Caller) Complete(ctx context.Context, req engine.Request) (*engine.Response, error) {
	spec := c.spec(req)
	result, err := agentstream.CollectChunks(shellexec.Stream(ctx, spec))
	if err != nil {
		return nil, fmt.Errorf("claudecli: %w", err)
	}
	return &engine.Response{
		Text:      result.Text,
		SessionID: result.SessionID,
		Model:     c.cfg.Model,
	}, nil
}

// Stream exposes the decoded event stream directly.
func (c *Caller) Stream(ctx context.Context, req engine.Request) <-chan agentstream.Event {
	return agentstream.Events(shellexec.Stream(ctx, c.spec(req)))
}

func (c *Caller) spec(req engine.Request) shellexec.Spec {
	args := []string{
		toolName,
		"-p",
		"--output-format", "stream-json",
		"--include-partial-messages",
		"--verbose",
	}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}

	prompt := req.Prompt
	if len(req.Attachments) > 0 {
		prompt += "\n\nThe screenshots to describe, in capture order:\n"
		for _, p := range req.Attachments {
			prompt += p + "\n"
		}
	}

	return shellexec.Spec{
		Command:   strings.Join(args, " "),
		Tool:      toolName,
		SetupHint: setupHint,
		Stdin:     prompt,
		Timeout:   c.cfg.Timeout,
		UsePty:    c.cfg.UsePty,
		Dir:       c.cfg.Workdir,
	}
}
