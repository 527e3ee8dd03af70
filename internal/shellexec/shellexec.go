// Package shellexec runs external CLI tools through the user's
// interactive login shell, so PATH discovery matches what the user sees
// in a terminal. It supports a synchronous mode (full output after exit)
// and a streaming mode (line-delimited output as it arrives), with a
// single wall-clock timeout per call. Each call owns its own buffers and
// process handle; nothing is shared across concurrent calls.
package shellexec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/norm/timeline-daemon/internal/fault"
)

// Spec describes one subprocess invocation.
type Spec struct {
	// Command is the full shell command line, run as `$SHELL -l -i -c <Command>`.
	Command string

	// Tool is the binary the command depends on, used in error messages
	// and missing-tool detection (e.g. "claude").
	Tool string

	// SetupHint names the install/auth step surfaced when Tool is missing.
	SetupHint string

	// Stdin is written to the process before its stdin is closed.
	Stdin string

	// Timeout is the wall-clock budget. Zero means DefaultTimeout.
	Timeout time.Duration

	// UsePty allocates a pseudo-terminal for tools whose output format
	// depends on TTY detection. Stderr is merged into the pty stream.
	UsePty bool

	// Dir is the working directory; empty means inherit.
	Dir string

	// Env entries appended to the inherited environment.
	Env []string
}

// Result is the outcome of a synchronous run.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Chunk is one streamed line of output, or the terminal error. After a
// Chunk with Err != nil no further chunks are sent.
type Chunk struct {
	Line string
	Err  error
}

// DefaultTimeout bounds calls that do not set their own budget.
const DefaultTimeout = 150 * time.Second

const missingToolExit = 127

// loginShell returns the user's shell, falling back to /bin/sh.
func loginShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func buildCmd(spec Spec) *exec.Cmd {
	cmd := exec.Command(loginShell(), "-l", "-i", "-c", spec.Command)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so timeout kills the whole tree, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

// Run executes the command synchronously. On timeout, partial output is
// discarded and a fault.TimeoutError is returned. Exit code 127 (or
// "command not found" in stderr) becomes a fault.ExecutionError naming the
// missing tool and its setup step.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cmd := buildCmd(spec)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	} else {
		cmd.Stdin = strings.NewReader("")
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &fault.ExecutionError{Tool: spec.Tool, ExitCode: -1, Stderr: err.Error(), Setup: spec.SetupHint}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killTree(cmd)
		<-done
		return nil, ctx.Err()
	case <-time.After(timeout):
		killTree(cmd)
		<-done
		return nil, &fault.TimeoutError{Tool: spec.Tool, Seconds: timeout.Seconds()}
	case err := <-done:
		result := &Result{
			ExitCode:   exitCode(cmd, err),
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
		if execErr := classify(spec, result); execErr != nil {
			return nil, execErr
		}
		return result, nil
	}
}

// Stream executes the command and sends output lines on the returned
// channel as they arrive, ANSI-stripped. The channel is closed after the
// process exits or the timeout fires; a timeout or spawn failure is
// delivered as exactly one terminal Chunk with Err set.
func Stream(ctx context.Context, spec Spec) <-chan Chunk {
	out := make(chan Chunk, 64)
	go func() {
		defer close(out)
		if err := stream(ctx, spec, out); err != nil {
			out <- Chunk{Err: err}
		}
	}()
	return out
}

func stream(ctx context.Context, spec Spec, out chan<- Chunk) error {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cmd := buildCmd(spec)

	var reader io.Reader
	var stderr bytes.Buffer
	var closer io.Closer

	if spec.UsePty {
		f, err := startPty(cmd, spec.Stdin)
		if err != nil {
			return &fault.ExecutionError{Tool: spec.Tool, ExitCode: -1, Stderr: err.Error(), Setup: spec.SetupHint}
		}
		reader = f
		closer = f
	} else {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("shellexec: stdout pipe: %w", err)
		}
		cmd.Stderr = &stderr
		cmd.Stdin = strings.NewReader(spec.Stdin)
		if err := cmd.Start(); err != nil {
			return &fault.ExecutionError{Tool: spec.Tool, ExitCode: -1, Stderr: err.Error(), Setup: spec.SetupHint}
		}
		reader = pipe
	}
	if closer != nil {
		defer closer.Close()
	}

	// Reader goroutine owns the scanner; lines land on a private channel
	// so the select below can race them against the deadline.
	lines := make(chan string, 64)
	readDone := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := StripEscapes(scanner.Text())
			if strings.TrimSpace(line) == "" {
				continue
			}
			lines <- line
		}
		// Pty close after exit reads as EIO; that is a normal end of stream.
		err := scanner.Err()
		if err != nil && spec.UsePty {
			err = nil
		}
		readDone <- err
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			killTree(cmd)
			<-waitDone
			return ctx.Err()
		case <-deadline.C:
			killTree(cmd)
			<-waitDone
			return &fault.TimeoutError{Tool: spec.Tool, Seconds: timeout.Seconds()}
		case line, ok := <-lines:
			if !ok {
				// Drain exit status; surface missing-tool failures.
				waitErr := <-waitDone
				if readErr := <-readDone; readErr != nil {
					return fmt.Errorf("shellexec: read: %w", readErr)
				}
				code := exitCode(cmd, waitErr)
				if code == missingToolExit || strings.Contains(stderr.String(), "command not found") {
					return missingTool(spec, code, stderr.String())
				}
				return nil
			}
			out <- Chunk{Line: line}
		}
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exit, ok := waitErr.(*exec.ExitError); ok {
		return exit.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// classify maps a finished synchronous run to an error when the exit code
// or stderr indicates failure.
func classify(spec Spec, r *Result) error {
	if r.ExitCode == 0 {
		return nil
	}
	if r.ExitCode == missingToolExit || strings.Contains(r.Stderr, "command not found") {
		return missingTool(spec, r.ExitCode, r.Stderr)
	}
	return &fault.ExecutionError{Tool: spec.Tool, ExitCode: r.ExitCode, Stderr: r.Stderr}
}

func missingTool(spec Spec, code int, stderr string) *fault.ExecutionError {
	hint := spec.SetupHint
	if hint == "" {
		hint = fmt.Sprintf("install %s and make sure it is on PATH in an interactive shell", spec.Tool)
	}
	return &fault.ExecutionError{Tool: spec.Tool, ExitCode: code, Stderr: stderr, Setup: hint}
}
