package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"beacon/internal/app"
	"beacon/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		database   string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Beacon relay: agent registration and heartbeats",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadRelayConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("db") {
				cfg.Database = database
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}

			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := app.NewRelayServer(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&listen, "listen", "", "listen address (overrides config)")
	f.StringVar(&database, "db", "", "SQLite roster path (overrides config)")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	return cmd
}
