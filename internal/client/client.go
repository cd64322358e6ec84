// Package client implements the peer-side driver: a reconnect loop that
// performs the HELLO/PING handshake against the coordinator and then
// idles until told to disconnect, sending BYE on the way out.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/chunghany/wireauto/internal/applier"
	"github.com/chunghany/wireauto/internal/transport"
	"github.com/chunghany/wireauto/internal/wgkey"
	"github.com/chunghany/wireauto/internal/wire"
)

// ReconnectBackoff is the pause between failed connection attempts.
const ReconnectBackoff = 2 * time.Second

// HelloRetry is how often the handshake re-sends HELLO while waiting for
// a reply.
const HelloRetry = 10 * time.Second

// ReplyWait is the wait budget used while awaiting a reply. In
// idleUntilShutdown it bounds the wait for the optional BYE reply. In
// sendAndAwait it does not end the attempt: a HELLO/PONG reply that
// arrives later is still accepted, and the message is re-sent only on the
// next HelloRetry tick.
const ReplyWait = 1 * time.Second

// Self describes this client's own peering info, sent in HELLO/PING.
type Self struct {
	MAC          net.HardwareAddr
	PublicKey    string
	EndpointIP   [4]byte
	EndpointPort uint16
	AllowedIPs   string
}

// Provisioned is what a successful handshake yields: the overlay address
// assigned by the coordinator and the coordinator's own peering info.
type Provisioned struct {
	VPNIP             [4]byte
	VPNNetmask        [4]byte
	CoordPublicKey    string
	CoordEndpointIP   [4]byte
	CoordEndpointPort uint16
	CoordAllowedIPs   string
}

// Client drives the reconnect/handshake loop against one coordinator
// address.
type Client struct {
	coordAddr   string
	ourSecret   wgkey.Key
	coordPublic wgkey.Key
	self        Self
	applier     applier.PeerApplier
	log         *slog.Logger
}

// New builds a Client. ourSecret/coordPublic are the shared static
// transport keypair (see coordinator.Coordinator's doc comment on why
// this is not a per-client identity).
func New(coordAddr string, ourSecret, coordPublic wgkey.Key, self Self, ap applier.PeerApplier, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		coordAddr:   coordAddr,
		ourSecret:   ourSecret,
		coordPublic: coordPublic,
		self:        self,
		applier:     ap,
		log:         log.With("component", "client"),
	}
}

// Run connects, completes the handshake, and then idles until ctx is
// canceled, at which point it sends BYE and returns. On a connection
// failure during the initial handshake it backs off and retries; it does
// not retry once provisioned. After provisioning, a dropped connection is
// not detected: Run keeps idling until ctx is canceled, and then returns
// nil (a failed BYE send is only logged).
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nc, err := net.Dial("tcp", c.coordAddr)
		if err != nil {
			c.log.Warn("dial failed, retrying", "addr", c.coordAddr, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ReconnectBackoff):
				continue
			}
		}

		tc := transport.New(nc, c.ourSecret, c.coordPublic)
		replies := make(chan wire.ControlMessage, 4)
		recvErrs := make(chan error, 1)
		go c.pump(ctx, tc, replies, recvErrs)

		provisioned, err := c.handshake(ctx, tc, replies, recvErrs)
		if err != nil {
			c.log.Warn("handshake failed, reconnecting", "error", err)
			nc.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ReconnectBackoff):
				continue
			}
		}

		c.log.Info("provisioned", "vpn_ip", wire.BytesToIP(provisioned.VPNIP))
		c.idleUntilShutdown(ctx, tc, nc, replies)
		return nil
	}
}

// handshake runs the HELLO→PING→PONG exchange once over tc (whose
// background pump is already running) and applies the coordinator as a
// local WireGuard peer.
func (c *Client) handshake(ctx context.Context, tc *transport.Conn, replies <-chan wire.ControlMessage, recvErrs <-chan error) (Provisioned, error) {
	hello := wire.ControlMessage{Kind: wire.KindHello, MAC: c.self.MAC}
	helloReply, err := c.sendAndAwait(ctx, tc, hello, replies, recvErrs, wire.KindHello)
	if err != nil {
		return Provisioned{}, fmt.Errorf("HELLO handshake: %w", err)
	}

	ping := wire.ControlMessage{
		Kind:         wire.KindPing,
		MAC:          c.self.MAC,
		VPNIP:        helloReply.VPNIP,
		VPNNetmask:   helloReply.VPNNetmask,
		PublicKey:    c.self.PublicKey,
		EndpointIP:   c.self.EndpointIP,
		EndpointPort: c.self.EndpointPort,
		AllowedIPs:   c.self.AllowedIPs,
	}
	pongReply, err := c.sendAndAwait(ctx, tc, ping, replies, recvErrs, wire.KindPong)
	if err != nil {
		return Provisioned{}, fmt.Errorf("PING handshake: %w", err)
	}

	p := Provisioned{
		VPNIP:             helloReply.VPNIP,
		VPNNetmask:        helloReply.VPNNetmask,
		CoordPublicKey:    pongReply.PublicKey,
		CoordEndpointIP:   pongReply.EndpointIP,
		CoordEndpointPort: pongReply.EndpointPort,
		CoordAllowedIPs:   pongReply.AllowedIPs,
	}

	if err := c.applier.Apply(ctx, p.CoordPublicKey, wire.BytesToIP(pongReply.VPNIP), wire.BytesToIP(p.CoordEndpointIP), p.CoordEndpointPort); err != nil {
		c.log.Warn("local applier.Apply failed", "error", err)
	}

	return p, nil
}

// sendAndAwait sends msg and re-sends it every HelloRetry until a reply of
// wantKind arrives on replies. It returns early only on a NOK reply, a
// receive error, or ctx cancellation; there is no overall timeout.
func (c *Client) sendAndAwait(ctx context.Context, tc *transport.Conn, msg wire.ControlMessage, replies <-chan wire.ControlMessage, recvErrs <-chan error, wantKind wire.Kind) (wire.ControlMessage, error) {
	retryTicker := time.NewTicker(HelloRetry)
	defer retryTicker.Stop()

	if err := tc.Send(msg); err != nil {
		return wire.ControlMessage{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return wire.ControlMessage{}, ctx.Err()
		case err := <-recvErrs:
			return wire.ControlMessage{}, err
		case reply := <-replies:
			if reply.Kind == wantKind {
				return reply, nil
			}
			if reply.Kind == wire.KindNOK {
				return wire.ControlMessage{}, fmt.Errorf("coordinator replied NOK")
			}
			// Unexpected kind while waiting — keep waiting for the right one.
		case <-time.After(ReplyWait):
			// No reply within the wait budget for this attempt; re-send on
			// the next retry tick rather than looping immediately.
		case <-retryTicker.C:
			if err := tc.Send(msg); err != nil {
				return wire.ControlMessage{}, err
			}
		}
	}
}

// pump forwards every successfully decoded message from tc into replies
// until the connection is closed, and reports the first terminal error
// (anything but a timeout or a decrypt failure) on recvErrs. It
// deliberately ignores ctx: closing nc (done by its caller) is what ends
// the pump, so that a message sent just before shutdown — e.g. the
// coordinator's BYE reply — is still delivered.
func (c *Client) pump(ctx context.Context, tc *transport.Conn, replies chan<- wire.ControlMessage, recvErrs chan<- error) {
	for {
		msg, err := tc.Recv()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				continue
			case errors.Is(err, wire.ErrDecrypt):
				c.log.Warn("dropping undecryptable envelope")
				continue
			default:
				select {
				case recvErrs <- err:
				default:
				}
				return
			}
		}

		replies <- msg
	}
}

// idleUntilShutdown blocks until ctx is canceled, then sends BYE over the
// already-open tc and waits briefly for an optional reply on replies
// (fed by the same background pump established during the handshake)
// before closing the connection.
func (c *Client) idleUntilShutdown(ctx context.Context, tc *transport.Conn, nc net.Conn, replies <-chan wire.ControlMessage) {
	<-ctx.Done()
	defer nc.Close()

	bye := wire.ControlMessage{Kind: wire.KindBye, MAC: c.self.MAC, PublicKey: c.self.PublicKey}
	if err := tc.Send(bye); err != nil {
		c.log.Warn("sending BYE failed", "error", err)
		return
	}

	select {
	case <-replies:
	case <-time.After(ReplyWait):
	}
}
