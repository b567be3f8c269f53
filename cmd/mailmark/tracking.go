package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newTrackingCmd builds "pause" or "resume".
func newTrackingCmd(a *app, pause bool) *cobra.Command {
	use, short := "resume", "Resume recording detected logins"
	if pause {
		use, short = "pause", "Stop recording detected logins"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			settings, err := s.svc.SetPaused(cmd.Context(), pause)
			if err != nil {
				return err
			}
			state := "active"
			if settings.IsPaused {
				state = "paused"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking %s\n", state)
			return nil
		},
	}
}
