package commands

import (
	"encoding/hex"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"beacon/internal/domain"
	"beacon/internal/services/trust"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage pinned agent keys",
	}
	cmd.AddCommand(keysListCmd(), keysTrustCmd(), keysRotateCmd(), keysRevokeCmd())
	return cmd
}

func keysListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pinned keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := appCtx.Trust.List(all)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(keys))
			for id := range keys {
				ids = append(ids, id.String())
			}
			sort.Strings(ids)

			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tPUBKEY\tLAST SEEN\tROTATIONS\tSTATE")
			for _, id := range ids {
				rec := keys[domain.AgentID(id)]
				state := "live"
				if trust.IsExpired(rec, now) {
					state = "expired"
				}
				seen := rec.LastSeen
				if seen == 0 {
					seen = rec.FirstSeen
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					id, shortHex(rec.PubkeyHex), unixTime(seen).Format(time.RFC3339), rec.RotationCount, state)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include expired keys")
	return cmd
}

func keysTrustCmd() *cobra.Command {
	var rotate bool
	cmd := &cobra.Command{
		Use:   "trust <agent_id> <pubkey_hex>",
		Short: "Pin a public key for an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := appCtx.Trust.Trust(domain.AgentID(args[0]), args[1], rotate)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is pinned to a different key (use --rotate to replace)", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trusted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&rotate, "rotate", false, "replace an existing pin")
	return cmd
}

func keysRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <agent_id> <new_pubkey_hex> <signature_hex>",
		Short: "Replace a pinned key; the signature is the old key's signature over the new key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := hex.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("signature: %w", err)
			}
			ok, err := appCtx.Trust.Rotate(domain.AgentID(args[0]), args[1], sig)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("rotation refused for %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s\n", args[0])
			return nil
		},
	}
}

func keysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <agent_id>",
		Short: "Forget an agent's pinned key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := appCtx.Trust.Revoke(domain.AgentID(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", args[0], domain.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", args[0])
			return nil
		},
	}
}

func shortHex(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func unixTime(sec float64) time.Time {
	return time.UnixMilli(int64(sec * 1e3))
}
