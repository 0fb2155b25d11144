package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"beacon/internal/domain"
)

func initCmd() *cobra.Command {
	var (
		seedHex string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the agent identity and store it sealed with the passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := passphrase()
			if err != nil {
				return err
			}
			var id domain.Identity
			if seedHex != "" {
				seed, derr := hex.DecodeString(seedHex)
				if derr != nil {
					return fmt.Errorf("--seed: %w", derr)
				}
				id, err = appCtx.Identity.ImportSeed(pass, seed, force)
			} else {
				id, err = appCtx.Identity.GenerateIdentity(pass, force)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nAgent ID: %s\n", id.AgentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&seedHex, "seed", "", "import a 32-byte Ed25519 seed (hex) instead of generating")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity; its private key is lost")
	return cmd
}

func idCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the agent id and public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Agent ID: %s\n", id.AgentID)
			fmt.Fprintf(out, "Public key: %s\n", hex.EncodeToString(id.Public.Slice()))
			return nil
		},
	}
}
