// Package coordinator implements the acceptor/supervisor: it listens for
// client connections, spawns a session handler per connection, and reaps
// sessions whose receive loop has terminated.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/chunghany/wireauto/internal/allowlist"
	"github.com/chunghany/wireauto/internal/applier"
	"github.com/chunghany/wireauto/internal/pool"
	"github.com/chunghany/wireauto/internal/registry"
	"github.com/chunghany/wireauto/internal/session"
	"github.com/chunghany/wireauto/internal/transport"
	"github.com/chunghany/wireauto/internal/wgkey"
)

// ReapInterval is how often the supervisor sweeps for dead sessions.
const ReapInterval = 2 * time.Second

// handle pairs a running session with its cancel func so the supervisor
// can tell whether it is still alive.
type handle struct {
	sess   *session.Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator owns the listening socket and the set of active sessions.
//
// Transport encryption uses a single static keypair shared by every
// client, not a per-client identity: ourSecret authenticates every
// envelope the coordinator sends, and peerTransportPublic is the one
// public key every client encrypts to. This mirrors the source, which
// hard-codes one client keypair and one server keypair for the whole
// fleet — the per-client WireGuard public key carried inside PING/PONG
// is a completely separate value, negotiated at the protocol layer once
// the transport channel is already open.
type Coordinator struct {
	ourSecret           wgkey.Key
	peerTransportPublic wgkey.Key
	self                session.Self
	registry            *registry.Registry
	pool                *pool.Pool
	applier             applier.PeerApplier
	allow               *allowlist.Allowlist
	log                 *slog.Logger

	mu       sync.Mutex
	sessions map[*handle]struct{}

	ln       net.Listener
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Coordinator. ourSecret is this node's long-term transport
// secret key; peerTransportPublic is the single public key shared by
// every client; self is the peering information sent back in PONG
// replies.
func New(ourSecret, peerTransportPublic wgkey.Key, self session.Self, reg *registry.Registry, p *pool.Pool, ap applier.PeerApplier, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		ourSecret:           ourSecret,
		peerTransportPublic: peerTransportPublic,
		self:                self,
		registry:            reg,
		pool:                p,
		applier:             ap,
		log:                 log.With("component", "coordinator"),
		sessions:            make(map[*handle]struct{}),
		stopCh:              make(chan struct{}),
	}
}

// WithAllowlist narrows which MACs are admitted past HELLO to those in
// allow. Passing nil (the default) admits any MAC. Must be called before
// Start.
func (c *Coordinator) WithAllowlist(allow *allowlist.Allowlist) *Coordinator {
	c.allow = allow
	return c
}

// Start binds addr (e.g. "0.0.0.0:9999") with SO_REUSEADDR set, then spawns
// the accept loop and the reaper in the background. It returns once the
// listener is bound.
func (c *Coordinator) Start(ctx context.Context, addr string) error {
	listenConfig := net.ListenConfig{
		Control: func(network, address string, rc syscall.RawConn) error {
			var ctrlErr error
			err := rc.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	ln, err := listenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("coordinator: listening on %s: %w", addr, err)
	}
	c.ln = ln

	go c.acceptLoop(ctx)
	go c.reapLoop()

	c.log.Info("coordinator listening", "addr", addr)
	return nil
}

func (c *Coordinator) acceptLoop(ctx context.Context) {
	for {
		nc, err := c.ln.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.log.Warn("accept error", "error", err)
			continue
		}

		c.log.Info("accepted connection", "remote", nc.RemoteAddr())
		tc := transport.New(nc, c.ourSecret, c.peerTransportPublic)
		sess := session.New(tc, c.registry, c.pool, c.applier, c.self, c.log).WithAllowlist(c.allow)

		sctx, cancel := context.WithCancel(ctx)
		h := &handle{sess: sess, cancel: cancel, done: make(chan struct{})}

		c.mu.Lock()
		c.sessions[h] = struct{}{}
		c.mu.Unlock()

		go func() {
			sess.Run(sctx)
			close(h.done)
		}()
	}
}

// reapLoop sweeps the session set every ReapInterval, removing any whose
// receive loop has terminated.
func (c *Coordinator) reapLoop() {
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.reapOnce()
		}
	}
}

func (c *Coordinator) reapOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for h := range c.sessions {
		select {
		case <-h.done:
			delete(c.sessions, h)
		default:
		}
	}
}

// Stop terminates the accept loop and reaper, cancels every live session,
// and closes the listener.
func (c *Coordinator) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.mu.Lock()
		for h := range c.sessions {
			h.cancel()
		}
		c.mu.Unlock()

		if c.ln != nil {
			err = c.ln.Close()
		}
	})
	return err
}

// ActiveSessions reports the number of sessions not yet reaped.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
