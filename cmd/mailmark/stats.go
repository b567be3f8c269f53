package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/FranksOps/mailmark/internal/report"
	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report recorded emails per domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			write, err := report.ForFormat(format)
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			store, err := s.svc.Mappings(cmd.Context())
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return write(w, report.Build(store, time.Now()))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json, html or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file instead of stdout")
	return cmd
}
