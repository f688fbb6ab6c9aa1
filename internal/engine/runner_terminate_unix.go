//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup sends SIGTERM, or SIGKILL when kill is set, to every
// process in the command's group.
func signalProcessGroup(cmd *exec.Cmd, kill bool) {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return
	}
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && kill {
		_ = cmd.Process.Kill()
	}
}
