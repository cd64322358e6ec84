package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chunghany/wireauto/internal/adminsock"
	"github.com/chunghany/wireauto/internal/allowlist"
	"github.com/chunghany/wireauto/internal/applier"
	"github.com/chunghany/wireauto/internal/config"
	"github.com/chunghany/wireauto/internal/coordinator"
	"github.com/chunghany/wireauto/internal/daemon"
	"github.com/chunghany/wireauto/internal/pool"
	"github.com/chunghany/wireauto/internal/registry"
	"github.com/chunghany/wireauto/internal/session"
	"github.com/chunghany/wireauto/internal/wgkey"
	"github.com/chunghany/wireauto/internal/wire"
)

var (
	upDaemon     bool
	upInterface  string
	upSocketPath string
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the coordinator",
	Long: `Start wireautod: bind the listen port, accept client connections, and
apply learned peers to the given WireGuard interface.

Use -d/--daemon to detach into the background; the detached process then
loads the config and binds the listener.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVarP(&upDaemon, "daemon", "d", false, "detach into the background after startup")
	upCmd.Flags().StringVar(&upInterface, "interface", "wg0", "WireGuard interface to apply peers to")
	upCmd.Flags().StringVar(&upSocketPath, "socket", adminsock.DefaultSocketPath, "admin socket path")
}

func runUp(cmd *cobra.Command, args []string) error {
	if upDaemon && !daemon.IsDaemonChild() {
		return daemon.Daemonize()
	}

	cfg, err := config.LoadServerConfig(globalConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ourSecret, err := wgkey.Parse(cfg.ThisSecretKey)
	if err != nil {
		return fmt.Errorf("parsing this_secret_key: %w", err)
	}
	peerTransportPublic, err := wgkey.Parse(cfg.ThisPublicKey)
	if err != nil {
		return fmt.Errorf("parsing this_public_key: %w", err)
	}

	self, err := buildSelf(cfg)
	if err != nil {
		return err
	}

	reg := registry.New()
	p, err := pool.New(cfg.VPNIPRangeBegin, cfg.VPNIPRangeEnd)
	if err != nil {
		return fmt.Errorf("building address pool: %w", err)
	}
	ap, err := applier.NewWGApplier(upInterface)
	if err != nil {
		return fmt.Errorf("locating wg: %w", err)
	}

	c := coordinator.New(ourSecret, peerTransportPublic, self, reg, p, ap, globalLogger)

	if cfg.MACAllowlistPath != "" {
		al, err := allowlist.Load(cfg.MACAllowlistPath)
		if err != nil {
			return fmt.Errorf("loading mac allowlist: %w", err)
		}
		globalLogger.Info("mac allowlist loaded", "path", cfg.MACAllowlistPath, "entries", al.Len())
		c.WithAllowlist(al)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	if err := c.Start(ctx, addr); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}

	admin := adminsock.NewServer(upSocketPath, func() adminsock.Status {
		total, used := p.Stats()
		return adminsock.Status{
			ActiveSessions: c.ActiveSessions(),
			PoolTotal:      total,
			PoolUsed:       used,
		}
	}, reg.Snapshot, globalLogger)
	if err := admin.Start(); err != nil {
		globalLogger.Warn("admin socket not started", "error", err)
	} else {
		defer admin.Stop()
	}

	<-ctx.Done()
	globalLogger.Info("shutting down")
	return c.Stop()
}

func buildSelf(cfg *config.ServerConfig) (session.Self, error) {
	vpnIP, err := wire.IPToBytes(cfg.ThisVPNIP)
	if err != nil {
		return session.Self{}, fmt.Errorf("parsing this_vpn_ip: %w", err)
	}
	netmask, err := wire.IPToBytes(cfg.ThisVPNNetmask)
	if err != nil {
		return session.Self{}, fmt.Errorf("parsing this_vpn_netmask: %w", err)
	}
	endpointIP, err := wire.IPToBytes(cfg.ThisEndpointIP)
	if err != nil {
		return session.Self{}, fmt.Errorf("parsing this_endpoint_ip: %w", err)
	}

	return session.Self{
		VPNIP:        vpnIP,
		VPNNetmask:   netmask,
		EndpointIP:   endpointIP,
		EndpointPort: cfg.ThisEndpointPort,
		AllowedIPs:   cfg.ThisAllowedIPs,
		PublicKey:    cfg.ThisPublicKey,
	}, nil
}
