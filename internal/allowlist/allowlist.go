// Package allowlist loads an optional TOML file narrowing which MAC
// addresses the coordinator accepts into trust-on-first-use. It does not
// replace TOFU with real authentication — it only gates which MACs may
// enter the TOFU flow in the first place.
package allowlist

import (
	"fmt"
	"net"
	"sync"

	"github.com/BurntSushi/toml"
)

// fileFormat is the on-disk representation: a flat list of MAC strings.
//
//	macs = ["aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"]
type fileFormat struct {
	MACs []string `toml:"macs"`
}

// Allowlist is an immutable set of permitted MAC addresses.
type Allowlist struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

// Load parses path and returns an Allowlist. An entry that does not parse
// as a MAC address is rejected up front, rather than silently ignored, so
// operator typos surface at load time rather than as mysterious NOKs.
func Load(path string) (*Allowlist, error) {
	var ff fileFormat
	if _, err := toml.DecodeFile(path, &ff); err != nil {
		return nil, fmt.Errorf("allowlist: decoding %s: %w", path, err)
	}

	allowed := make(map[string]struct{}, len(ff.MACs))
	for _, raw := range ff.MACs {
		mac, err := net.ParseMAC(raw)
		if err != nil {
			return nil, fmt.Errorf("allowlist: invalid mac %q in %s: %w", raw, path, err)
		}
		allowed[mac.String()] = struct{}{}
	}

	return &Allowlist{allowed: allowed}, nil
}

// Permits reports whether mac is on the allowlist.
func (a *Allowlist) Permits(mac net.HardwareAddr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.allowed[mac.String()]
	return ok
}

// Len reports the number of entries loaded.
func (a *Allowlist) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.allowed)
}
