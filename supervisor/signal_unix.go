//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

// sysProcAttr places the worker in its own process group so signals reach
// the whole tree, including children the submitted code may have forked.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// interruptProcess delivers the cooperative stop signal to the worker's
// process group. SIGINT matches what the code would receive from a Ctrl-C,
// giving handlers a chance to run.
func interruptProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGINT)
}

// killProcess ends the worker's process group unconditionally. SIGKILL
// cannot be caught or ignored, so this is effective even against a tight
// non-yielding loop.
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
