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
The private key is printed to stdout; the corresponding public key is
printed to stderr.`,
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
