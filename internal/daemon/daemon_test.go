package daemon

import "testing"

func TestIsDaemonChild(t *testing.T) {
	t.Setenv("WIREAUTO_DAEMON_CHILD", "")
	if IsDaemonChild() {
		t.Fatal("IsDaemonChild true with no marker set")
	}
	t.Setenv("WIREAUTO_DAEMON_CHILD", "1")
	if !IsDaemonChild() {
		t.Fatal("IsDaemonChild false with marker set to 1")
	}
}
