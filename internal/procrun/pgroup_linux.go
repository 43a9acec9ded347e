//go:build linux

package procrun

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setpgid puts the subprocess in its own process group so that
// killGroup can reach any children it spawns (e.g. a shell pipeline
// inside iptables-restore), not just the immediate child.
func setpgid(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGTERM to the subprocess's whole process group,
// installed as cmd.Cancel so context cancellation (e.g. the daemon
// shutting down mid-restore) doesn't leave orphaned grandchildren behind.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}
