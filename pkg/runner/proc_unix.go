//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the tool in its own process group so a
// timeout kills every child it forked, not just the direct process.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
