// Package applier drives the local WireGuard interface by shelling out to
// the wg(8) CLI, rather than embedding a userspace device: the coordinator
// and client only ever need to add or remove a single peer entry, so there
// is no reason to link an in-process tunnel implementation.
package applier

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"
)

// PersistentKeepalive is the interval passed to "wg set ... persistent-keepalive".
const PersistentKeepalive = 25 * time.Second

// PeerApplier configures and tears down a single peer on the local
// WireGuard interface.
type PeerApplier interface {
	Apply(ctx context.Context, publicKey string, overlayIP, endpointIP net.IP, endpointPort uint16) error
	Remove(ctx context.Context, publicKey string) error
}

// WGApplier implements PeerApplier by invoking the wg(8) binary found on
// PATH against a fixed interface name.
type WGApplier struct {
	iface string
	wgBin string
}

// NewWGApplier resolves the wg binary on PATH and returns a WGApplier bound
// to iface (e.g. "wg0").
func NewWGApplier(iface string) (*WGApplier, error) {
	wgPath, err := exec.LookPath("wg")
	if err != nil {
		return nil, fmt.Errorf("applier: wg binary not found on PATH: %w", err)
	}
	return &WGApplier{iface: iface, wgBin: wgPath}, nil
}

// Apply adds or updates a peer entry: allowed-ips is the peer's overlay
// address as a /32, and endpoint is host:port.
func (a *WGApplier) Apply(ctx context.Context, publicKey string, overlayIP, endpointIP net.IP, endpointPort uint16) error {
	args := []string{
		"set", a.iface,
		"peer", publicKey,
		"allowed-ips", overlayIP.String() + "/32",
		"endpoint", fmt.Sprintf("%s:%d", endpointIP.String(), endpointPort),
		"persistent-keepalive", fmt.Sprintf("%d", int(PersistentKeepalive.Seconds())),
	}
	return a.run(ctx, args)
}

// Remove deletes a peer entry by public key.
func (a *WGApplier) Remove(ctx context.Context, publicKey string) error {
	return a.run(ctx, []string{"set", a.iface, "peer", publicKey, "remove"})
}

func (a *WGApplier) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, a.wgBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("applier: %s %v: %w (output: %s)", a.wgBin, args, err, out)
	}
	return nil
}
