package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/hotel-booking-core/internal/app"
	"github.com/ariefcatur/hotel-booking-core/internal/config"
	"github.com/ariefcatur/hotel-booking-core/internal/logx"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass and exit",
		Long: "Expires stale payment codes, re-drives succeeded payments, cancels abandoned " +
			"bookings and releases orphan reservations, once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logx.New(cfg.Env)
			defer func() { _ = logger.Sync() }()

			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.Sweeper.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d resettled=%d abandoned=%d orphans=%d\n",
				rep.Expired, rep.Resettled, rep.Abandoned, rep.Orphans)
			return nil
		},
	}
}
