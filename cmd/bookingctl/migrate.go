package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/hotel-booking-core/internal/config"
	"github.com/ariefcatur/hotel-booking-core/internal/logx"
	"github.com/ariefcatur/hotel-booking-core/internal/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				if err := m.Up(cmd.Context()); err != nil {
					return err
				}
				v, err := m.Version(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				return m.Status(cmd.Context())
			})
		},
	})
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(m *postgres.Migrator) error) error {
	cfg := config.Load()
	logger := logx.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	db, err := postgres.Connect(cmd.Context(), cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	m, err := postgres.NewMigrator(db, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
