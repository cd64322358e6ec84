package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/chunghany/wireauto/internal/allowlist"
	"github.com/chunghany/wireauto/internal/pool"
	"github.com/chunghany/wireauto/internal/registry"
	"github.com/chunghany/wireauto/internal/transport"
	"github.com/chunghany/wireauto/internal/wgkey"
	"github.com/chunghany/wireauto/internal/wire"
)

// recordingApplier captures Apply/Remove invocations for assertions.
type recordingApplier struct {
	applied []string
	removed []string
}

func (r *recordingApplier) Apply(ctx context.Context, publicKey string, overlayIP, endpointIP net.IP, endpointPort uint16) error {
	r.applied = append(r.applied, publicKey)
	return nil
}

func (r *recordingApplier) Remove(ctx context.Context, publicKey string) error {
	r.removed = append(r.removed, publicKey)
	return nil
}

// testHarness wires a Session on one end of a net.Pipe to a raw transport
// client on the other end, so HELLO/PING/BYE can be driven directly.
type testHarness struct {
	t          *testing.T
	client     *transport.Conn
	clientRaw  net.Conn
	sess       *Session
	applier    *recordingApplier
	reg        *registry.Registry
	pool       *pool.Pool
	cancel     context.CancelFunc
	doneCh     chan struct{}
}

func newHarness(t *testing.T, poolBegin, poolEnd string, allow ...*allowlist.Allowlist) *testHarness {
	t.Helper()

	var al *allowlist.Allowlist
	if len(allow) > 0 {
		al = allow[0]
	}

	serverSecret, err := wgkey.Generate()
	if err != nil {
		t.Fatalf("generating server key: %v", err)
	}
	clientSecret, err := wgkey.Generate()
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	serverPublic := wgkey.Public(serverSecret)
	clientPublic := wgkey.Public(clientSecret)

	serverSide, clientSide := net.Pipe()

	reg := registry.New()
	p, err := pool.New(poolBegin, poolEnd)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	app := &recordingApplier{}

	self := Self{
		VPNIP:        [4]byte{10, 9, 0, 1},
		VPNNetmask:   [4]byte{255, 255, 255, 0},
		EndpointIP:   [4]byte{203, 0, 113, 1},
		EndpointPort: 51820,
		AllowedIPs:   "10.9.0.0/24",
		PublicKey:    serverPublic.String(),
	}

	serverConn := transport.New(serverSide, serverSecret, clientPublic)
	clientConn := transport.New(clientSide, clientSecret, serverPublic)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := New(serverConn, reg, p, app, self, log).WithAllowlist(al)

	ctx, cancel := context.WithCancel(context.Background())
	h := &testHarness{
		t:         t,
		client:    clientConn,
		clientRaw: clientSide,
		sess:      sess,
		applier:   app,
		reg:       reg,
		pool:      p,
		cancel:    cancel,
		doneCh:    make(chan struct{}),
	}
	go func() {
		sess.Run(ctx)
		close(h.doneCh)
	}()
	return h
}

func (h *testHarness) close() {
	h.cancel()
	h.client.Close()
}

func (h *testHarness) send(msg wire.ControlMessage) {
	h.t.Helper()
	if err := h.client.Send(msg); err != nil {
		h.t.Fatalf("client send: %v", err)
	}
}

func (h *testHarness) recv() wire.ControlMessage {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := h.client.Recv()
		if err == nil {
			return msg
		}
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		h.t.Fatalf("client recv: %v", err)
	}
	h.t.Fatal("timed out waiting for a reply")
	return wire.ControlMessage{}
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("parsing mac: %v", err)
	}
	return mac
}

func TestFirstTimeProvisioning(t *testing.T) {
	h := newHarness(t, "10.1.0.1", "10.1.0.5")
	defer h.close()

	mac := mustMAC(t, "02:00:00:00:00:01")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: mac})

	reply := h.recv()
	if reply.Kind != wire.KindHello {
		t.Fatalf("got kind %v, want HELLO", reply.Kind)
	}
	want := [4]byte{10, 1, 0, 1}
	if reply.VPNIP != want {
		t.Fatalf("got vpn_ip %v, want %v", reply.VPNIP, want)
	}
}

func TestPingCompletesProvisioning(t *testing.T) {
	h := newHarness(t, "10.1.0.1", "10.1.0.5")
	defer h.close()

	mac := mustMAC(t, "02:00:00:00:00:01")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: mac})
	h.recv()

	ping := wire.ControlMessage{
		Kind:         wire.KindPing,
		MAC:          mac,
		PublicKey:    "AAAA",
		EndpointIP:   [4]byte{203, 0, 113, 7},
		EndpointPort: 51820,
		AllowedIPs:   "10.1.0.1/32",
	}
	h.send(ping)

	pong := h.recv()
	if pong.Kind != wire.KindPong {
		t.Fatalf("got kind %v, want PONG", pong.Kind)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.applier.applied) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(h.applier.applied) != 1 || h.applier.applied[0] != "AAAA" {
		t.Fatalf("applier.applied = %v, want [AAAA]", h.applier.applied)
	}
}

func TestByeReleases(t *testing.T) {
	h := newHarness(t, "10.1.0.1", "10.1.0.5")
	defer h.close()

	mac := mustMAC(t, "02:00:00:00:00:01")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: mac})
	h.recv()
	h.send(wire.ControlMessage{
		Kind:       wire.KindPing,
		MAC:        mac,
		PublicKey:  "AAAA",
		AllowedIPs: "10.1.0.1/32",
	})
	h.recv()

	h.send(wire.ControlMessage{Kind: wire.KindBye, MAC: mac})
	reply := h.recv()
	if reply.Kind != wire.KindBye {
		t.Fatalf("got kind %v, want BYE", reply.Kind)
	}

	if _, ok := h.pool.Search(mac); ok {
		t.Fatal("pool slot was not released after BYE")
	}
}

func TestByeWithoutPingStillRemovesApplierPeer(t *testing.T) {
	h := newHarness(t, "10.1.0.1", "10.1.0.5")
	defer h.close()

	mac := mustMAC(t, "02:00:00:00:00:01")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: mac})
	h.recv()

	h.send(wire.ControlMessage{Kind: wire.KindBye, MAC: mac, PublicKey: "AAAA"})
	reply := h.recv()
	if reply.Kind != wire.KindBye {
		t.Fatalf("got kind %v, want BYE", reply.Kind)
	}

	if _, ok := h.pool.Search(mac); ok {
		t.Fatal("pool slot was not released after BYE")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.applier.removed) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(h.applier.removed) != 1 || h.applier.removed[0] != "AAAA" {
		t.Fatalf("applier.removed = %v, want [AAAA] (BYE's own public_key must be used, not a never-populated registry attribute)", h.applier.removed)
	}
}

func TestPoolExhaustionSendsNOK(t *testing.T) {
	h := newHarness(t, "10.1.0.1", "10.1.0.1")
	defer h.close()

	macA := mustMAC(t, "02:00:00:00:00:01")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: macA})
	if reply := h.recv(); reply.Kind != wire.KindHello {
		t.Fatalf("first client: got kind %v, want HELLO", reply.Kind)
	}

	macB := mustMAC(t, "02:00:00:00:00:02")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: macB})
	if reply := h.recv(); reply.Kind != wire.KindNOK {
		t.Fatalf("second client: got kind %v, want NOK", reply.Kind)
	}
}

func TestAllowlistRejectsUnlistedMAC(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/allowlist.toml"
	allowed := mustMAC(t, "02:00:00:00:00:01")
	if err := os.WriteFile(path, []byte(`macs = ["`+allowed.String()+`"]`+"\n"), 0o600); err != nil {
		t.Fatalf("writing allowlist: %v", err)
	}
	al, err := allowlist.Load(path)
	if err != nil {
		t.Fatalf("allowlist.Load: %v", err)
	}

	h := newHarness(t, "10.1.0.1", "10.1.0.5", al)
	defer h.close()

	rejected := mustMAC(t, "02:00:00:00:00:02")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: rejected})
	if reply := h.recv(); reply.Kind != wire.KindNOK {
		t.Fatalf("unlisted mac: got kind %v, want NOK", reply.Kind)
	}

	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: allowed})
	if reply := h.recv(); reply.Kind != wire.KindHello {
		t.Fatalf("listed mac: got kind %v, want HELLO", reply.Kind)
	}
}

func TestGarbageIsDroppedSilently(t *testing.T) {
	h := newHarness(t, "10.1.0.1", "10.1.0.5")
	defer h.close()

	garbage := make([]byte, wire.EnvelopeSize)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	// Write raw garbage bytes directly on the pipe rather than through
	// Conn.Send, so it fails authentication instead of decrypting cleanly.
	if _, err := h.clientRaw.Write(garbage); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}

	// No reply should arrive; confirm the session is still alive by
	// following up with a valid HELLO.
	mac := mustMAC(t, "02:00:00:00:00:09")
	h.send(wire.ControlMessage{Kind: wire.KindHello, MAC: mac})
	reply := h.recv()
	if reply.Kind != wire.KindHello {
		t.Fatalf("session did not survive garbage: got kind %v", reply.Kind)
	}
}
