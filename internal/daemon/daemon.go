// Package daemon detaches the current process from its controlling
// terminal for --daemon mode, grounded on the source's do_fork/setsid/
// redirect_fds sequence in main.cpp. Go cannot safely fork(2) a running
// multi-threaded runtime, so the idiomatic equivalent is a self re-exec
// into a new session with stdio redirected to /dev/null; the re-exec
// child is distinguished from the original invocation by an environment
// marker.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
)

// daemonChildEnvKey marks a process as the already-detached daemon child,
// so Daemonize only forks once even if the daemon re-execs itself for
// other reasons.
const daemonChildEnvKey = "WIREAUTO_DAEMON_CHILD"

// IsDaemonChild reports whether the current process is the re-exec'd
// daemon child (i.e. Daemonize has already run).
func IsDaemonChild() bool {
	return os.Getenv(daemonChildEnvKey) == "1"
}

// Daemonize re-execs the current binary with the same arguments in a new
// session, with stdin/stdout/stderr redirected to /dev/null, then exits
// the calling process. It must be called before any other goroutines that
// hold file descriptors or locks are started. Callers should guard the
// call with !IsDaemonChild() to avoid re-forking.
func Daemonize() error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemon: opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: resolving executable path: %w", err)
	}

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonChildEnvKey+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Dir = "/"
	setDetachedSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemon: starting detached child: %w", err)
	}

	os.Exit(0)
	return nil
}
