package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunghany/wireauto/internal/wgkey"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a new Curve25519 keypair",
	Long: `Generate a new Curve25519 private key suitable for this_secret_key.
The private key is printed to stdout; the corresponding public key, for
this_public_key on the peer side, is printed to stderr.

Example:
  wireautod genkey                    # print private key
  wireautod genkey 2>/dev/null        # private key only (pipe-friendly)`,
	RunE: runGenkey,
}

func runGenkey(cmd *cobra.Command, args []string) error {
	priv, err := wgkey.Generate()
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	pub := wgkey.Public(priv)

	fmt.Fprintln(cmd.OutOrStdout(), priv.String())
	fmt.Fprintf(cmd.ErrOrStderr(), "public key: %s\n", pub.String())
	return nil
}
