// Command wireautoctl is a thin client for a running wireautod's admin
// socket: it prints pool utilization and the peer registry without
// linking any of the coordinator's listening or provisioning code.
package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chunghany/wireauto/internal/adminsock"
)

var version = "dev"

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "wireautoctl",
	Short: "Inspect a running wireautod coordinator",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", adminsock.DefaultSocketPath, "admin socket path")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wireautoctl version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool and session summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := adminsock.FetchStatus(socketPath)
		if err != nil {
			return fmt.Errorf("is wireautod running? %w", err)
		}
		fmt.Fprintf(os.Stdout, "Active sessions: %d\n", status.ActiveSessions)
		fmt.Fprintf(os.Stdout, "Pool:            %d/%d used\n", status.PoolUsed, status.PoolTotal)
		return nil
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List registered peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		peers, err := adminsock.FetchPeers(socketPath)
		if err != nil {
			return fmt.Errorf("is wireautod running? %w", err)
		}
		if len(peers) == 0 {
			fmt.Println("No peers registered.")
			return nil
		}

		macs := make([]string, 0, len(peers))
		for mac := range peers {
			macs = append(macs, mac)
		}
		sort.Strings(macs)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MAC\tVPN IP\tPUBLIC KEY\tLAST SEEN")
		for _, mac := range macs {
			a := peers[mac]
			vpnIP := fmt.Sprintf("%d.%d.%d.%d", a.VPNIP[0], a.VPNIP[1], a.VPNIP[2], a.VPNIP[3])
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mac, vpnIP, a.PublicKey, a.LastSeen.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
