package wire

import (
	"fmt"
	"net"
)

// IPToBytes converts a dotted-quad IPv4 string into the 4-byte array used
// by ControlMessage.VPNIP/VPNNetmask/EndpointIP: bytes in the literal
// printed order (a, b, c, d), independent of host endianness.
//
// This resolves the reversed-octet-order open question from the original
// implementation: the C++ source built these fields with
// byteArrayToIpAddress(i+1, oct2, oct1, oct0) and then read them back out
// with inet_ntoa, which only prints the intended address on a
// little-endian host. Storing the bytes directly in print order sidesteps
// host-endianness entirely while producing byte-identical wire output.
func IPToBytes(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("parsing IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("address %q is not IPv4", s)
	}
	copy(out[:], v4)
	return out, nil
}

// BytesToIP converts a VPNIP/VPNNetmask/EndpointIP field into a net.IP
// (whose String method prints it as a dotted quad).
func BytesToIP(b [4]byte) net.IP {
	return net.IPv4(b[0], b[1], b[2], b[3])
}
