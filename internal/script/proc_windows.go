//go:build windows

package script

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

func shellCommand(line string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/C", line)
}

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// Windows has no catchable termination signal for console children, so
// both steps terminate the process.
func terminate(cmd *exec.Cmd) error { return cmd.Process.Kill() }

func kill(cmd *exec.Cmd) error { return cmd.Process.Kill() }
