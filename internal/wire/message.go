// Package wire implements the control-channel wire format: the fixed-layout
// ControlMessage record and the authenticated-encrypted envelope that
// carries it. The byte layout in this file is load-bearing — it must match
// existing coordinator/client deployments byte-for-byte (see offsets below),
// so encode/decode avoid encoding/gob or JSON in favor of explicit field
// placement.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// Kind is the 4-byte message-type discriminant.
type Kind uint32

const (
	KindHello Kind = iota
	KindPing
	KindPong
	KindOK
	KindNOK
	KindBye
	KindExist
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindOK:
		return "OK"
	case KindNOK:
		return "NOK"
	case KindBye:
		return "BYE"
	case KindExist:
		return "EXIST"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Field sizes and offsets, per the wire format. These are part of the
// interop contract and must not change.
const (
	macLen        = 6
	ipLen         = 4
	pubKeyLen     = 45
	allowedIPsLen = 256

	offKind         = 0
	offMAC          = offKind + 4
	offVPNIP        = offMAC + macLen
	offVPNNetmask   = offVPNIP + ipLen
	offPublicKey    = offVPNNetmask + ipLen
	offEndpointIP   = offPublicKey + pubKeyLen
	offEndpointPort = offEndpointIP + ipLen
	offAllowedIPs   = offEndpointPort + 2

	// ClearTextSize is the fixed size of an encoded ControlMessage: 325 bytes.
	ClearTextSize = offAllowedIPs + allowedIPsLen
)

// ControlMessage is the cleartext control-channel record exchanged between
// a client and the coordinator. Every field is fixed-width on the wire; see
// the offset constants above.
type ControlMessage struct {
	Kind Kind

	// MAC identifies the client, stable across reconnects. Always 6 bytes.
	MAC net.HardwareAddr

	// VPNIP and VPNNetmask are stored as the 4 bytes that print as "a.b.c.d"
	// in that literal order — not necessarily host- or network-byte-order.
	// See ip.go for why.
	VPNIP      [4]byte
	VPNNetmask [4]byte

	// PublicKey is the base64 encoding of a 32-byte X25519 key (no NUL
	// padding here; padding is applied only in the wire encoding).
	PublicKey string

	EndpointIP [4]byte

	// EndpointPort is carried in host byte order on the wire (see DESIGN.md
	// open question on endpoint_port byte order — preserved for interop).
	EndpointPort uint16

	// AllowedIPs is a comma-separated CIDR list, e.g. "10.0.0.0/24,192.168.1.0/24".
	AllowedIPs string
}

// Encode serializes m into its fixed ClearTextSize-byte wire representation.
func Encode(m ControlMessage) ([]byte, error) {
	if len(m.MAC) != 0 && len(m.MAC) != macLen {
		return nil, fmt.Errorf("encoding control message: mac address must be %d bytes, got %d", macLen, len(m.MAC))
	}
	if len(m.PublicKey) >= pubKeyLen {
		return nil, fmt.Errorf("encoding control message: public key %d bytes exceeds field width %d", len(m.PublicKey), pubKeyLen-1)
	}
	if len(m.AllowedIPs) >= allowedIPsLen {
		return nil, fmt.Errorf("encoding control message: allowed_ips %d bytes exceeds field width %d", len(m.AllowedIPs), allowedIPsLen-1)
	}

	buf := make([]byte, ClearTextSize)

	binary.LittleEndian.PutUint32(buf[offKind:], uint32(m.Kind))
	copy(buf[offMAC:offMAC+macLen], m.MAC)
	copy(buf[offVPNIP:offVPNIP+ipLen], m.VPNIP[:])
	copy(buf[offVPNNetmask:offVPNNetmask+ipLen], m.VPNNetmask[:])
	copy(buf[offPublicKey:offPublicKey+pubKeyLen], m.PublicKey) // remainder stays NUL
	copy(buf[offEndpointIP:offEndpointIP+ipLen], m.EndpointIP[:])
	binary.LittleEndian.PutUint16(buf[offEndpointPort:], m.EndpointPort)
	copy(buf[offAllowedIPs:offAllowedIPs+allowedIPsLen], m.AllowedIPs) // remainder stays NUL

	return buf, nil
}

// Decode parses a ClearTextSize-byte wire record into a ControlMessage.
func Decode(data []byte) (ControlMessage, error) {
	if len(data) != ClearTextSize {
		return ControlMessage{}, fmt.Errorf("decoding control message: want %d bytes, got %d", ClearTextSize, len(data))
	}

	var m ControlMessage
	m.Kind = Kind(binary.LittleEndian.Uint32(data[offKind:]))

	mac := make(net.HardwareAddr, macLen)
	copy(mac, data[offMAC:offMAC+macLen])
	m.MAC = mac

	copy(m.VPNIP[:], data[offVPNIP:offVPNIP+ipLen])
	copy(m.VPNNetmask[:], data[offVPNNetmask:offVPNNetmask+ipLen])

	m.PublicKey = nulTerminatedString(data[offPublicKey : offPublicKey+pubKeyLen])

	copy(m.EndpointIP[:], data[offEndpointIP:offEndpointIP+ipLen])
	m.EndpointPort = binary.LittleEndian.Uint16(data[offEndpointPort:])

	m.AllowedIPs = nulTerminatedString(data[offAllowedIPs : offAllowedIPs+allowedIPsLen])

	return m, nil
}

// nulTerminatedString returns the portion of b before the first NUL byte,
// matching the C-string semantics the wire format relies on (public keys
// and allowed-ips fields must be compared as C-strings, not raw buffers).
func nulTerminatedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
