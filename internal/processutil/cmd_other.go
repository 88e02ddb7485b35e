//go:build !windows

// Package processutil adjusts child process attributes per platform.
package processutil

import "os/exec"

// HideConsoleWindow is a no-op outside Windows.
func HideConsoleWindow(*exec.Cmd) {}
