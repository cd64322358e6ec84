// Package config parses the coordinator's and client's key=value
// configuration files. The grammar is hand-rolled rather than delegated
// to an off-the-shelf format (TOML, YAML, flag files): it must match an
// existing interop-critical grammar byte-for-byte — trim, '#' comments,
// and a 2-or-3-token split on '=' that rejoins an embedded '=' back into
// the value — so a generic parser library would need as much adaptation
// code as writing this one directly (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Table is a flat key=value store loaded from a config file.
type Table struct {
	values map[string]string
}

// Parse reads path and returns the parsed key=value table. Blank lines and
// lines whose first non-trimmed character is '#' are skipped. A line with
// more than one '=' has its second and later segments rejoined with '='
// into the value, e.g. "allowed_ips = 10.0.0.0/24=foo" becomes
// key "allowed_ips", value "10.0.0.0/24=foo". A line that is neither
// well-formed nor a comment is skipped, mirroring the source's per-line
// tolerance.
func Parse(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	t := &Table{values: make(map[string]string)}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 3)
		switch len(parts) {
		case 2:
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			t.values[key] = val
		case 3:
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1]) + "=" + strings.TrimSpace(parts[2])
			t.values[key] = val
		default:
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	return t, nil
}

// Contains reports whether key was present in the file.
func (t *Table) Contains(key string) bool {
	_, ok := t.values[key]
	return ok
}

// String returns the raw value for key with all leading and trailing
// double quotes stripped. Errors if key is absent.
func (t *Table) String(key string) (string, error) {
	v, ok := t.values[key]
	if !ok {
		return "", fmt.Errorf("config: missing required key %q", key)
	}
	if strings.Contains(v, `"`) {
		v = strings.Trim(v, `"`)
	}
	return v, nil
}

// Int parses the value for key as a base-10 integer.
func (t *Table) Int(key string) (int, error) {
	v, err := t.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: key %q is not an integer: %w", key, err)
	}
	return n, nil
}

// Bool parses the value for key, accepting "true"/"TRUE" as true and
// anything else as false, matching the source's getbool.
func (t *Table) Bool(key string) (bool, error) {
	v, err := t.String(key)
	if err != nil {
		return false, err
	}
	return v == "true" || v == "TRUE", nil
}

// ServerConfig is the coordinator's configuration, recognized from a
// server.conf-style key=value file.
type ServerConfig struct {
	VPNIPRangeBegin  string
	VPNIPRangeEnd    string
	ThisVPNIP        string
	ThisVPNNetmask   string
	ThisEndpointIP   string
	ThisEndpointPort uint16
	ThisAllowedIPs   string
	ThisPublicKey    string
	ThisSecretKey    string
	ListenPort       int

	// MACAllowlistPath, if set, narrows trust-on-first-use to the MAC
	// addresses listed in that file. Absent, all HELLOs are accepted.
	MACAllowlistPath string
}

// LoadServerConfig parses path into a ServerConfig, applying the same
// required/optional rules as the source: the pool range, this node's own
// peering fields, and the listen port are mandatory; the allowlist path is
// optional.
func LoadServerConfig(path string) (*ServerConfig, error) {
	t, err := Parse(path)
	if err != nil {
		return nil, err
	}

	c := &ServerConfig{}
	var errs []string
	req := func(key string) string {
		v, err := t.String(key)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	c.VPNIPRangeBegin = req("vpnip_range_begin")
	c.VPNIPRangeEnd = req("vpnip_range_end")
	c.ThisVPNIP = req("this_vpn_ip")
	c.ThisVPNNetmask = req("this_vpn_netmask")
	c.ThisEndpointIP = req("this_endpoint_ip")
	c.ThisAllowedIPs = req("this_allowed_ips")
	c.ThisPublicKey = req("this_public_key")
	c.ThisSecretKey = req("this_secret_key")

	port, err := t.Int("this_endpoint_port")
	if err != nil {
		errs = append(errs, err.Error())
	}
	c.ThisEndpointPort = uint16(port)

	listenPort, err := t.Int("listen_port")
	if err != nil {
		errs = append(errs, err.Error())
	}
	c.ListenPort = listenPort

	if t.Contains("mac_allowlist_path") {
		c.MACAllowlistPath, _ = t.String("mac_allowlist_path")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return c, nil
}

// ClientConfig is a client's configuration, recognized from a
// client.conf-style key=value file.
type ClientConfig struct {
	CoordinatorIP    string
	CoordinatorPort  int
	ThisMAC          string
	ThisPublicKey    string
	ThisSecretKey    string
	ThisEndpointIP   string
	ThisEndpointPort uint16
	ThisAllowedIPs   string
	Interface        string
}

// LoadClientConfig parses path into a ClientConfig.
func LoadClientConfig(path string) (*ClientConfig, error) {
	t, err := Parse(path)
	if err != nil {
		return nil, err
	}

	c := &ClientConfig{}
	var errs []string
	req := func(key string) string {
		v, err := t.String(key)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	c.CoordinatorIP = req("coordinator_ip")
	c.ThisPublicKey = req("this_public_key")
	c.ThisSecretKey = req("this_secret_key")
	c.ThisEndpointIP = req("this_endpoint_ip")
	c.ThisAllowedIPs = req("this_allowed_ips")
	c.Interface = req("interface")

	coordPort, err := t.Int("coordinator_port")
	if err != nil {
		errs = append(errs, err.Error())
	}
	c.CoordinatorPort = coordPort

	endpointPort, err := t.Int("this_endpoint_port")
	if err != nil {
		errs = append(errs, err.Error())
	}
	c.ThisEndpointPort = uint16(endpointPort)

	if t.Contains("this_mac") {
		c.ThisMAC, _ = t.String("this_mac")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return c, nil
}
