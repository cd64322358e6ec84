// Package session implements the per-connection protocol state machine
// that turns HELLO/PING/BYE exchanges into registry, pool, and applier
// calls.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chunghany/wireauto/internal/allowlist"
	"github.com/chunghany/wireauto/internal/applier"
	"github.com/chunghany/wireauto/internal/pool"
	"github.com/chunghany/wireauto/internal/registry"
	"github.com/chunghany/wireauto/internal/transport"
	"github.com/chunghany/wireauto/internal/wire"
)

// State is a session's place in the HELLO/PING/BYE state machine.
type State int

const (
	AwaitingHello State = iota
	Provisioned
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingHello:
		return "AwaitingHello"
	case Provisioned:
		return "Provisioned"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Self is this node's own peering information, used to answer PING with a
// PONG describing the coordinator itself.
type Self struct {
	VPNIP        [4]byte
	VPNNetmask   [4]byte
	EndpointIP   [4]byte
	EndpointPort uint16
	AllowedIPs   string
	PublicKey    string
}

// Session drives one accepted connection through the protocol.
type Session struct {
	id       string
	conn     *transport.Conn
	registry *registry.Registry
	pool     *pool.Pool
	applier  applier.PeerApplier
	allow    *allowlist.Allowlist
	self     Self
	log      *slog.Logger

	state State
}

// New constructs a Session bound to an already-open transport connection.
// It is assigned a random id used solely to correlate this connection's log
// lines; it has no protocol meaning.
func New(conn *transport.Conn, reg *registry.Registry, p *pool.Pool, ap applier.PeerApplier, self Self, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		registry: reg,
		pool:     p,
		applier:  ap,
		self:     self,
		log:      log.With("session_id", id),
		state:    AwaitingHello,
	}
}

// WithAllowlist narrows the sessions this Session will admit past HELLO to
// MACs present in allow. Passing nil restores the default: any MAC may
// enter TOFU. Returns s for chaining at construction time.
func (s *Session) WithAllowlist(allow *allowlist.Allowlist) *Session {
	s.allow = allow
	return s
}

// ID returns the session's log-correlation identifier.
func (s *Session) ID() string {
	return s.id
}

// State reports the session's current state.
func (s *Session) State() State {
	return s.state
}

// Run drives the receive loop until the connection is closed or ctx is
// canceled. Decrypt failures are logged and dropped without affecting the
// session; transport errors other than a timeout end the session.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			s.state = Closed
			return
		default:
		}

		msg, err := s.conn.Recv()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				continue
			case errors.Is(err, wire.ErrDecrypt):
				s.log.Warn("dropping undecryptable envelope", "remote", s.conn.RemoteAddr())
				continue
			case errors.Is(err, transport.ErrPeerClosed):
				s.log.Info("peer closed connection", "remote", s.conn.RemoteAddr())
				s.state = Closed
				return
			default:
				s.log.Warn("transport error, closing session", "remote", s.conn.RemoteAddr(), "error", err)
				s.state = Closed
				return
			}
		}

		if !s.handle(ctx, msg) {
			s.state = Closed
			return
		}
	}
}

// handle processes one decoded message and reports whether the session
// should remain open.
func (s *Session) handle(ctx context.Context, msg wire.ControlMessage) bool {
	switch msg.Kind {
	case wire.KindHello:
		return s.handleHello(msg)
	case wire.KindPing:
		return s.handlePing(ctx, msg)
	case wire.KindBye:
		return s.handleBye(ctx, msg)
	default:
		s.sendNOK()
		return true
	}
}

func (s *Session) handleHello(msg wire.ControlMessage) bool {
	if s.allow != nil && !s.allow.Permits(msg.MAC) {
		s.log.Warn("HELLO from mac not on allowlist", "mac", msg.MAC)
		s.sendNOK()
		return true
	}

	s.registry.Add(msg.MAC, registry.Attrs{LastSeen: time.Now()})

	// The netmask is parsed once at startup (wireautod's buildSelf turns
	// this_vpn_netmask into Self.VPNNetmask), so there is nothing left to
	// fail here —
	// unlike the source, which re-parses the configured string on every
	// HELLO.
	netmask := s.self.VPNNetmask

	entry, ok := s.pool.Search(msg.MAC)
	if !ok {
		var allocErr error
		entry, allocErr = s.pool.Allocate(msg.MAC)
		if allocErr != nil {
			s.log.Warn("pool allocation failed", "mac", msg.MAC, "error", allocErr)
			s.sendNOK()
			return true
		}
	}

	reply := wire.ControlMessage{
		Kind:       wire.KindHello,
		MAC:        msg.MAC,
		VPNIP:      entry.VPNIP,
		VPNNetmask: netmask,
	}
	if err := s.conn.Send(reply); err != nil {
		s.log.Warn("sending HELLO reply failed", "error", err)
		return false
	}

	s.state = Provisioned
	return true
}

func (s *Session) handlePing(ctx context.Context, msg wire.ControlMessage) bool {
	attrs := registry.Attrs{
		VPNIP:        msg.VPNIP,
		VPNNetmask:   msg.VPNNetmask,
		PublicKey:    msg.PublicKey,
		EndpointIP:   msg.EndpointIP,
		EndpointPort: msg.EndpointPort,
		AllowedIPs:   msg.AllowedIPs,
		LastSeen:     time.Now(),
	}
	if !s.registry.Update(msg.MAC, attrs) {
		s.log.Warn("PING for unregistered mac", "mac", msg.MAC)
		s.sendNOK()
		return true
	}

	pong := wire.ControlMessage{
		Kind:         wire.KindPong,
		MAC:          msg.MAC,
		VPNIP:        s.self.VPNIP,
		VPNNetmask:   s.self.VPNNetmask,
		PublicKey:    s.self.PublicKey,
		EndpointIP:   s.self.EndpointIP,
		EndpointPort: s.self.EndpointPort,
		AllowedIPs:   s.self.AllowedIPs,
	}
	if err := s.conn.Send(pong); err != nil {
		s.log.Warn("sending PONG failed", "error", err)
		return false
	}

	if err := s.applier.Apply(ctx, msg.PublicKey, wire.BytesToIP(msg.VPNIP), wire.BytesToIP(msg.EndpointIP), msg.EndpointPort); err != nil {
		// External command errors are logged but do not undo the reply
		// already sent to the peer.
		s.log.Warn("applier.Apply failed", "mac", msg.MAC, "error", err)
	}

	return true
}

func (s *Session) handleBye(ctx context.Context, msg wire.ControlMessage) bool {
	if !s.registry.Remove(msg.MAC) {
		s.sendNOK()
		return true
	}

	reply := wire.ControlMessage{Kind: wire.KindBye, MAC: msg.MAC}
	sendErr := s.conn.Send(reply)

	s.pool.Release(msg.MAC)
	if err := s.applier.Remove(ctx, msg.PublicKey); err != nil {
		s.log.Warn("applier.Remove failed", "mac", msg.MAC, "error", err)
	}

	return sendErr == nil
}

func (s *Session) sendNOK() {
	if err := s.conn.Send(wire.ControlMessage{Kind: wire.KindNOK}); err != nil {
		s.log.Warn("sending NOK failed", "error", err)
	}
}
