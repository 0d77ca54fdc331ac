//go:build !linux

// Package procattr configures agent subprocesses so they live in their own
// process group and can be torn down as a unit.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set puts cmd in a new process group. Pdeathsig is Linux-only, so the
// parent must call Stop to avoid leaking the group.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
