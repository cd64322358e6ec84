//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// setDetachedSysProcAttr starts the child in its own session (setsid),
// matching the source's do_fork+setsid+do_fork double-fork sequence that
// detaches from the controlling terminal.
func setDetachedSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
