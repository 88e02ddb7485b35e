//go:build windows

package processutil

import (
	"os/exec"
	"syscall"
)

// HideConsoleWindow sets HideWindow so ffmpeg and its probes run without
// opening a console when screenrec itself has none.
func HideConsoleWindow(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}
