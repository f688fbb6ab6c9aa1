//go:build windows

package engine

import "os/exec"

func isolateProcessGroup(*exec.Cmd) {}

// signalProcessGroup kills the direct child. Windows has no process group
// signal that matches SIGTERM.
func signalProcessGroup(cmd *exec.Cmd, _ bool) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
