package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/chunghany/wireauto/internal/transport"
	"github.com/chunghany/wireauto/internal/wgkey"
	"github.com/chunghany/wireauto/internal/wire"
)

type noopApplier struct{ applied chan string }

func (n noopApplier) Apply(ctx context.Context, publicKey string, overlayIP, endpointIP net.IP, endpointPort uint16) error {
	if n.applied != nil {
		n.applied <- publicKey
	}
	return nil
}
func (noopApplier) Remove(ctx context.Context, publicKey string) error { return nil }

// fakeCoordinator accepts exactly one connection and replies HELLO then
// PONG, mirroring the coordinator's side of the handshake without
// depending on the session/coordinator packages.
func fakeCoordinator(t *testing.T, ln net.Listener, ourSecret, peerPublic wgkey.Key) {
	t.Helper()
	nc, err := ln.Accept()
	if err != nil {
		return
	}
	defer nc.Close()
	tc := transport.New(nc, ourSecret, peerPublic)

	for {
		msg, err := tc.Recv()
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return
		}
		switch msg.Kind {
		case wire.KindHello:
			reply := wire.ControlMessage{
				Kind:       wire.KindHello,
				MAC:        msg.MAC,
				VPNIP:      [4]byte{10, 3, 0, 1},
				VPNNetmask: [4]byte{255, 255, 255, 0},
			}
			if err := tc.Send(reply); err != nil {
				return
			}
		case wire.KindPing:
			pong := wire.ControlMessage{
				Kind:       wire.KindPong,
				MAC:        msg.MAC,
				PublicKey:  "coordinator-pubkey",
				EndpointIP: [4]byte{203, 0, 113, 1},
			}
			if err := tc.Send(pong); err != nil {
				return
			}
		case wire.KindBye:
			reply := wire.ControlMessage{Kind: wire.KindBye, MAC: msg.MAC}
			tc.Send(reply)
			return
		}
	}
}

func TestClientHandshakeAndShutdown(t *testing.T) {
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

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		fakeCoordinator(t, ln, serverSecret, clientPublic)
		close(done)
	}()

	mac, err := net.ParseMAC("02:00:00:00:00:07")
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	applied := make(chan string, 1)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(ln.Addr().String(), clientSecret, serverPublic, Self{MAC: mac, PublicKey: "client-pubkey"}, noopApplier{applied: applied}, log)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	select {
	case pk := <-applied:
		if pk != "coordinator-pubkey" {
			t.Fatalf("applied public key = %q, want coordinator-pubkey", pk)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for applier.Apply")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator side never observed a BYE/disconnect")
	}
	<-runErr
}
