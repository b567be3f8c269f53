package main

import (
	"fmt"
	"os"

	"github.com/FranksOps/mailmark/internal/reconcile"
	"github.com/FranksOps/mailmark/internal/report"
	"github.com/spf13/cobra"
)

func newImportCmd(a *app) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Merge a CSV export into the store",
		Long: `Read a file written by "stats --format csv" and merge it into the store.
Records present on both sides are resolved by --on-conflict, where the file is
the local side.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strat, err := reconcile.ParseStrategy(strategy)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			incoming, skipped, err := report.ReadCSV(f)
			if err != nil {
				return err
			}
			if skipped > 0 {
				a.logger.Warn("skipped unusable rows", "file", args[0], "rows", skipped)
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.svc.Import(cmd.Context(), incoming, strat)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows; store now holds %d emails across %d domains\n",
				incoming.Statistics().EmailCount, st.EmailCount, st.DomainCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "on-conflict", "latest_wins", "Conflict strategy: local_wins, remote_wins or latest_wins")
	return cmd
}
