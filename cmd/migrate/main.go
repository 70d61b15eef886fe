package main

import (
	"SaleLedger/internal/config"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/persistence"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := observability.NewLogger("migrate")

	v := config.New()
	var configFile string

	// open connects using the same config sources as saled
	open := func(cmd *cobra.Command) (*sql.DB, *persistence.Migrator, error) {
		if err := v.BindPFlag("postgres.dsn", cmd.Flags().Lookup("postgres-dsn")); err != nil {
			return nil, nil, err
		}
		if err := v.BindPFlag("migrations_dir", cmd.Flags().Lookup("dir")); err != nil {
			return nil, nil, err
		}
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return nil, nil, err
		}
		db, err := persistence.Open(cmd.Context(), cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		var fsys fs.FS = persistence.EmbeddedMigrations()
		if cfg.MigrationsDir != "" {
			fsys = os.DirFS(cfg.MigrationsDir)
		}
		return db, persistence.NewMigrator(db, fsys), nil
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the SaleLedger schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file")
	root.PersistentFlags().String("postgres-dsn", "", "Postgres connection string")
	root.PersistentFlags().String("dir", "", "migrations directory, empty for the embedded set")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			logger.Info().Int("applied", n).Msg("migrations applied")
			return nil
		},
	}, &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			rolled, err := m.Down(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			if !rolled {
				logger.Info().Msg("nothing to roll back")
				return nil
			}
			logger.Info().Msg("last migration rolled back")
			return nil
		},
	}, &cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			versions, err := m.Applied(cmd.Context())
			if err != nil {
				return err
			}
			for _, version := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			}
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("migrate failed")
		os.Exit(1)
	}
}
