package shellexec

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// startPty launches the command attached to a pseudo-terminal and returns
// the master side. Used for tools that change output format when they
// detect a TTY. A fixed window size keeps line wrapping out of the JSON.
func startPty(cmd *exec.Cmd, stdin string) (*os.File, error) {
	// The child must own the pty as its controlling terminal; Setsid also
	// makes it a process-group leader, which killTree relies on.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 400})
	if err != nil {
		return nil, err
	}
	if stdin != "" {
		if _, err := f.WriteString(stdin + "\n"); err != nil {
			f.Close()
			killTree(cmd)
			return nil, err
		}
	}
	return f, nil
}
