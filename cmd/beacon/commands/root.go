package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"beacon/internal/app"
	"beacon/internal/domain"
	"beacon/internal/logging"
)

var (
	cfg    *viper.Viper
	appCtx *app.Wire
)

func Execute() error { return NewRootCmd().Execute() }

// NewRootCmd builds the command tree with fresh flag and env bindings.
func NewRootCmd() *cobra.Command {
	cfg = viper.New()
	root := &cobra.Command{
		Use:           "beacon",
		Short:         "Signed agent envelopes, TOFU key pinning and relay presence",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cfg.GetString("log-level"))
			if err != nil {
				return err
			}
			appCtx, err = app.NewWire(app.Config{
				Home:     cfg.GetString("home"),
				RelayURL: cfg.GetString("relay"),
				Logger:   log,
			})
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.String("home", "", "state dir (default ~/.beacon)")
	pf.String("relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	pf.StringP("passphrase", "p", "", "passphrase protecting the identity")
	pf.String("log-level", "", "log to stderr at this level (debug, info, warn, error)")

	cfg.SetEnvPrefix("BEACON")
	cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.AutomaticEnv()
	_ = cfg.BindPFlags(pf)

	root.AddCommand(
		initCmd(),
		idCmd(),
		keysCmd(),
		inboxCmd(),
		encodeCmd(),
		decodeCmd(),
		pingCmd(),
	)
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		return zap.NewNop(), nil
	}
	return logging.New(logging.Config{Level: level})
}

func passphrase() (string, error) {
	p := cfg.GetString("passphrase")
	if p == "" {
		return "", errors.New("passphrase required (-p or BEACON_PASSPHRASE)")
	}
	return p, nil
}

func loadIdentity() (domain.Identity, error) {
	p, err := passphrase()
	if err != nil {
		return domain.Identity{}, err
	}
	id, err := appCtx.Identity.LoadIdentity(p)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, errors.New("no identity yet, run beacon init")
	}
	return id, err
}
