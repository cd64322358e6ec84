package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chunghany/wireauto/internal/adminsock"
)

var statusSocketPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator status",
	Long:  `Query the running wireautod over its admin socket and display pool utilization and connected peers.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSocketPath, "socket", adminsock.DefaultSocketPath, "admin socket path")
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := adminsock.FetchStatus(statusSocketPath)
	if err != nil {
		return fmt.Errorf("is wireautod running? %w", err)
	}

	fmt.Fprintf(os.Stdout, "Active sessions: %d\n", status.ActiveSessions)
	fmt.Fprintf(os.Stdout, "Pool:            %d/%d used\n", status.PoolUsed, status.PoolTotal)
	fmt.Println()

	peers, err := adminsock.FetchPeers(statusSocketPath)
	if err != nil {
		return fmt.Errorf("fetching peers: %w", err)
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
	fmt.Fprintln(w, "MAC\tVPN IP\tPUBLIC KEY\tENDPOINT\tLAST SEEN")
	for _, mac := range macs {
		a := peers[mac]
		vpnIP := fmt.Sprintf("%d.%d.%d.%d", a.VPNIP[0], a.VPNIP[1], a.VPNIP[2], a.VPNIP[3])
		endpoint := fmt.Sprintf("%d.%d.%d.%d:%d", a.EndpointIP[0], a.EndpointIP[1], a.EndpointIP[2], a.EndpointIP[3], a.EndpointPort)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mac, vpnIP, a.PublicKey, endpoint, a.LastSeen.Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	return nil
}
