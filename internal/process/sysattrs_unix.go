//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so a kill
// reaches the dev servers and watchers it spawns.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the whole process group of cmd. The group id
// is the leader's pid and stays valid while any member is alive, so this
// also reaches orphans of a leader that has already been reaped. An empty
// group (ESRCH) counts as success.
func killGroup(cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// group signal refused; fall back to the leader alone
	if kerr := cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
		return kerr
	}
	return nil
}
