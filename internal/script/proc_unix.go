//go:build !windows

package script

import (
	"errors"
	"os/exec"
	"syscall"
)

func shellCommand(line string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", line)
}

// configureSysProcAttr places the child in its own process group so that
// signals reach the shell and everything it spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) error { return signalGroup(cmd, syscall.SIGTERM) }

func kill(cmd *exec.Cmd) error { return signalGroup(cmd, syscall.SIGKILL) }

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	pid := cmd.Process.Pid
	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return cmd.Process.Signal(sig)
}
