// Package transport implements the framed, authenticated-encrypted TCP
// channel that carries control messages: one envelope per send, a
// 1-second blocking-with-timeout read, and no length prefix — the
// receiver reads up to the fixed envelope size and decrypts whatever
// arrived, matching the source's assumption of one envelope per TCP
// segment (see DESIGN.md's open question on misframing under
// coalescing/fragmentation).
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/chunghany/wireauto/internal/wgkey"
	"github.com/chunghany/wireauto/internal/wire"
)

// ReadTimeout is how long Recv blocks waiting for readability before
// returning ErrTimeout.
const ReadTimeout = 1 * time.Second

// ErrTimeout is returned when no envelope arrived within ReadTimeout.
var ErrTimeout = errors.New("transport: read timeout")

// ErrPeerClosed is returned when the peer closed the connection (a short
// read of zero bytes).
var ErrPeerClosed = errors.New("transport: peer closed connection")

// Conn wraps a TCP connection with the envelope framing and the pair of
// long-term keys needed to seal outgoing messages and open incoming ones.
type Conn struct {
	nc         net.Conn
	ourSecret  wgkey.Key
	peerPublic wgkey.Key
}

// New wraps an already-connected net.Conn. peerPublic can be replaced
// later via SetPeerPublic.
func New(nc net.Conn, ourSecret, peerPublic wgkey.Key) *Conn {
	return &Conn{nc: nc, ourSecret: ourSecret, peerPublic: peerPublic}
}

// SetPeerPublic updates the peer public key used to open future envelopes.
func (c *Conn) SetPeerPublic(k wgkey.Key) {
	c.peerPublic = k
}

// RemoteAddr returns the remote endpoint's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Send seals and writes a single control message as one envelope.
func (c *Conn) Send(m wire.ControlMessage) error {
	envelope, err := wire.SealMessage(m, c.peerPublic, c.ourSecret)
	if err != nil {
		return fmt.Errorf("sealing message: %w", err)
	}

	n, err := c.nc.Write(envelope)
	if err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	if n != len(envelope) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(envelope))
	}
	return nil
}

// Recv waits up to ReadTimeout for one envelope and returns the decoded
// message. It performs a single Read call sized to the fixed envelope
// length — no length-prefix framing — so it decrypts exactly whatever
// arrived in that read, by design (see package doc).
//
// Three distinct outcomes beyond success: ErrTimeout (nothing arrived in
// time — keep waiting), ErrPeerClosed (connection is done — tear down the
// session), and wire.ErrDecrypt (garbage or a misframed/split envelope —
// drop it and keep the connection open).
func (c *Conn) Recv() (wire.ControlMessage, error) {
	if err := c.nc.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return wire.ControlMessage{}, fmt.Errorf("setting read deadline: %w", err)
	}

	buf := make([]byte, wire.EnvelopeSize)
	n, err := c.nc.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return wire.ControlMessage{}, ErrTimeout
		}
		return wire.ControlMessage{}, fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	if n == 0 {
		return wire.ControlMessage{}, ErrPeerClosed
	}

	return wire.OpenMessage(buf[:n], c.peerPublic, c.ourSecret)
}
