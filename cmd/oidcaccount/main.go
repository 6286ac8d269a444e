// Command oidcaccount obtains, stores and uses OIDC tokens from the command
// line.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openaccounts/oidcaccount/account"
	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/store"
)

// app holds what every command needs once the configuration is loaded.
type app struct {
	cfg     *fileConfig
	logger  hclog.Logger
	client  *oidc.Client
	manager *account.Manager
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		logLevel   string
		a          = &app{}
	)
	root := &cobra.Command{
		Use:          "oidcaccount",
		Short:        "Obtain, store and use OIDC tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
					return fmt.Errorf("env file: %w", err)
				}
			}
			return a.init(configPath, logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.client != nil {
				a.client.Done()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv(envPrefix+"CONFIG"), "path to a YAML config file (env OIDCACCOUNT_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace|debug|info|warn|error")

	root.AddCommand(
		newAuthURLCmd(a),
		newFinishCmd(a),
		newLoginCmd(a),
		newTokenCmd(a),
		newCallCmd(a),
		newAccountsCmd(a),
		newLogoutCmd(a),
	)
	return root
}

func (a *app) init(configPath, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	a.cfg = cfg
	a.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "oidcaccount",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: os.Stderr,
	})

	key, err := store.LoadKeyFile(cfg.Store.KeyFile, true)
	if err != nil {
		return fmt.Errorf("sealing key: %w", err)
	}
	kopts, err := cfg.keyringOptions()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	k, err := store.NewKeyring(key, kopts...)
	if err != nil {
		return err
	}
	// running a command is the user's presence
	k.Unlock()
	st, err := store.New(cfg.Store.Settings, k, store.WithLogger(a.logger.Named("store")))
	if err != nil {
		return err
	}
	a.client = oidc.NewClient(oidc.WithLogger(a.logger.Named("oidc")))
	a.manager, err = account.NewManager(st, a.client, account.WithLogger(a.logger.Named("account")))
	return err
}
