package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/chunghany/wireauto/internal/wgkey"
	"github.com/chunghany/wireauto/internal/wire"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("parsing mac: %v", err)
	}
	return mac
}

func TestSendRecvRoundTrip(t *testing.T) {
	aSecret, err := wgkey.Generate()
	if err != nil {
		t.Fatalf("generating a key: %v", err)
	}
	bSecret, err := wgkey.Generate()
	if err != nil {
		t.Fatalf("generating b key: %v", err)
	}
	aPublic := wgkey.Public(aSecret)
	bPublic := wgkey.Public(bSecret)

	aSide, bSide := net.Pipe()
	defer aSide.Close()
	defer bSide.Close()

	a := New(aSide, aSecret, bPublic)
	b := New(bSide, bSecret, aPublic)

	msg := wire.ControlMessage{
		Kind:       wire.KindHello,
		MAC:        mustMAC(t, "02:00:00:00:00:01"),
		VPNIP:      [4]byte{10, 1, 0, 1},
		AllowedIPs: "10.1.0.1/32",
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Send(msg) }()

	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.Kind != msg.Kind || got.VPNIP != msg.VPNIP || got.AllowedIPs != msg.AllowedIPs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestRecvTimesOutWithNoTraffic(t *testing.T) {
	aSecret, _ := wgkey.Generate()
	bSecret, _ := wgkey.Generate()

	aSide, bSide := net.Pipe()
	defer aSide.Close()
	defer bSide.Close()

	b := New(bSide, bSecret, wgkey.Public(aSecret))

	start := time.Now()
	_, err := b.Recv()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Recv with no traffic: got %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < ReadTimeout {
		t.Fatalf("Recv returned after %v, want at least ReadTimeout %v", elapsed, ReadTimeout)
	}
}

func TestRecvReturnsErrDecryptOnGarbage(t *testing.T) {
	aSecret, _ := wgkey.Generate()
	bSecret, _ := wgkey.Generate()

	aSide, bSide := net.Pipe()
	defer aSide.Close()
	defer bSide.Close()

	b := New(bSide, bSecret, wgkey.Public(aSecret))

	garbage := make([]byte, wire.EnvelopeSize)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	go aSide.Write(garbage)

	_, err := b.Recv()
	if !errors.Is(err, wire.ErrDecrypt) {
		t.Fatalf("Recv with garbage: got %v, want wire.ErrDecrypt", err)
	}
}

func TestRecvReturnsErrPeerClosedOnClose(t *testing.T) {
	aSecret, _ := wgkey.Generate()
	bSecret, _ := wgkey.Generate()

	aSide, bSide := net.Pipe()
	defer bSide.Close()

	b := New(bSide, bSecret, wgkey.Public(aSecret))
	aSide.Close()

	_, err := b.Recv()
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("Recv after peer close: got %v, want ErrPeerClosed", err)
	}
}
