package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"beacon/internal/domain"
)

func pingCmd() *cobra.Command {
	var (
		req     domain.PingRequest
		meta    string
		list    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Register with the relay or send a heartbeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			if meta != "" {
				if err := json.Unmarshal([]byte(meta), &req.Metadata); err != nil {
					return fmt.Errorf("--metadata: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if list {
				client, err := appCtx.Relay(id)
				if err != nil {
					return err
				}
				agents, err := client.Agents(ctx)
				if err != nil {
					return err
				}
				for _, a := range agents {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tbeats=%d\n", a.AgentID, a.Status, a.Name, a.BeatCount)
				}
				return nil
			}

			p, err := appCtx.Presence(id)
			if err != nil {
				return err
			}
			resp, err := p.Beat(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case resp.AutoRegistered:
				fmt.Fprintf(out, "Registered %s with %s\n", id.AgentID, appCtx.RelayURL())
			case resp.ReRegistered:
				fmt.Fprintf(out, "Re-registered %s with %s\n", id.AgentID, appCtx.RelayURL())
			default:
				fmt.Fprintf(out, "Heartbeat %d for %s\n", resp.BeatCount, id.AgentID)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&req.Name, "name", "", "display name")
	fl.StringVar(&req.Status, "status", "", "status (default alive)")
	fl.StringVar(&req.Provider, "provider", "", "enrolling provider")
	fl.StringVar(&meta, "metadata", "", "metadata as a JSON object")
	fl.BoolVar(&list, "list", false, "list the relay roster instead of pinging")
	fl.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline including retries")
	return cmd
}
