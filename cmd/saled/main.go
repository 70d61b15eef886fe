package main

import (
	"SaleLedger/internal/config"
	"SaleLedger/internal/observability"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "saled:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	root := &cobra.Command{
		Use:           "saled",
		Short:         "Token sale ledger with cliff and periodic vesting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Recover state and serve the sale over NATS, gRPC and HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(v, cmd, configFile)
			if err != nil {
				return err
			}
			observability.SetLevel(observability.ParseLogLevel(cfg.LogLevel))
			logger := observability.NewLogger("saled")
			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error().Err(err).Msg("saled stopped with error")
				return err
			}
			return nil
		},
	}
	addServeFlags(serve)

	show := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(v, cmd, configFile)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
	addServeFlags(show)

	root.AddCommand(serve, show)
	return root
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("postgres-dsn", "", "Postgres connection string")
	f.String("nats-url", "", "NATS server URL")
	f.Bool("nats", true, "consume commands and publish events over NATS")
	f.String("grpc-addr", "", "gRPC listen address")
	f.String("http-addr", "", "HTTP gateway listen address")
	f.String("metrics-addr", "", "Prometheus listen address")
	f.String("log-level", "", "debug, info, warn or error")
	f.StringSlice("admin", nil, "admin identity, repeatable")
	f.String("sale-start", "", "sale start, RFC3339")
}

// load binds only the flags the user set, so unset flags fall through to
// file, env and defaults.
func load(v *viper.Viper, cmd *cobra.Command, file string) (config.Config, error) {
	changed := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
	cmd.Flags().Visit(func(f *pflag.Flag) { changed.AddFlag(f) })
	if err := config.BindFlags(v, changed); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(v, file)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
