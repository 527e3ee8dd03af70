package codexcli

import (
	"testing"

	"github.com/norm/timeline-daemon/internal/engine"
)

func TestSpecCommandConstruction(t *testing.T) {
	c := &Caller{cfg: Config{Model: "gpt-5"}}

	spec := c.spec(engine.Request{
		Prompt:      "describe",
		SessionID:   "thread-1",
		Attachments: []string{"/tmp/frame-000.png"},
	})
	want := "codex exec --json --skip-git-repo-check --model gpt-5 resume thread-1 --image /tmp/frame-000.png -"
	if spec.Command != want {
		t.Errorf("command = %q\nwant      %q", spec.Command, want)
	}
	if spec.Stdin != "describe" {
		t.Errorf("stdin = %q", spec.Stdin)
	}
	if !spec.UsePty {
		t.Error("codex output differs without a TTY; UsePty must be on")
	}
}

func TestSpecFreshThread(t *testing.T) {
	c := &Caller{cfg: Config{}}

	spec := c.spec(engine.Request{Prompt: "hi"})
	if spec.Command != "codex exec --json --skip-git-repo-check -" {
		t.Errorf("command = %q", spec.Command)
	}
}
