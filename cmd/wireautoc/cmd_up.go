package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chunghany/wireauto/internal/applier"
	"github.com/chunghany/wireauto/internal/client"
	"github.com/chunghany/wireauto/internal/config"
	"github.com/chunghany/wireauto/internal/daemon"
	"github.com/chunghany/wireauto/internal/wgkey"
	"github.com/chunghany/wireauto/internal/wire"
)

var upDaemon bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Connect to the coordinator",
	Long: `Start wireautoc: connect to the configured coordinator, complete the
HELLO/PING handshake, and keep the coordinator's peer entry applied to the
local WireGuard interface until interrupted.

Use -d/--daemon to detach into the background; the detached process then
loads the config and connects.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVarP(&upDaemon, "daemon", "d", false, "detach into the background after startup")
}

func runUp(cmd *cobra.Command, args []string) error {
	if upDaemon && !daemon.IsDaemonChild() {
		return daemon.Daemonize()
	}

	cfg, err := config.LoadClientConfig(globalConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ourSecret, err := wgkey.Parse(cfg.ThisSecretKey)
	if err != nil {
		return fmt.Errorf("parsing this_secret_key: %w", err)
	}
	coordPublic, err := wgkey.Parse(cfg.ThisPublicKey)
	if err != nil {
		return fmt.Errorf("parsing this_public_key: %w", err)
	}

	self, err := buildSelf(cfg)
	if err != nil {
		return err
	}

	ap, err := applier.NewWGApplier(cfg.Interface)
	if err != nil {
		return fmt.Errorf("locating wg: %w", err)
	}

	coordAddr := fmt.Sprintf("%s:%d", cfg.CoordinatorIP, cfg.CoordinatorPort)
	c := client.New(coordAddr, ourSecret, coordPublic, self, ap, globalLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	return c.Run(ctx)
}

func buildSelf(cfg *config.ClientConfig) (client.Self, error) {
	mac, err := resolveMAC(cfg)
	if err != nil {
		return client.Self{}, err
	}

	endpointIP, err := wire.IPToBytes(cfg.ThisEndpointIP)
	if err != nil {
		return client.Self{}, fmt.Errorf("parsing this_endpoint_ip: %w", err)
	}

	return client.Self{
		MAC:          mac,
		PublicKey:    cfg.ThisPublicKey,
		EndpointIP:   endpointIP,
		EndpointPort: cfg.ThisEndpointPort,
		AllowedIPs:   cfg.ThisAllowedIPs,
	}, nil
}

// resolveMAC prefers an explicit this_mac override; absent one, it reads
// the hardware address off the configured interface, mirroring the
// source's ioctl-based get_local_mac_address.
func resolveMAC(cfg *config.ClientConfig) (net.HardwareAddr, error) {
	if cfg.ThisMAC != "" {
		return net.ParseMAC(cfg.ThisMAC)
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("resolving mac from interface %s: %w", cfg.Interface, err)
	}
	return iface.HardwareAddr, nil
}
