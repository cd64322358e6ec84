//go:build windows

package daemon

import "os/exec"

// setDetachedSysProcAttr is a no-op on Windows: there is no controlling
// terminal to detach from in the same sense. The child is still re-exec'd
// with stdio redirected, but without a new session.
func setDetachedSysProcAttr(cmd *exec.Cmd) {}
