package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local records with the remote store once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			strategy, err := a.cfg.SyncStrategy()
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if s.syncer == nil {
				return errSyncDisabled
			}

			res, err := s.svc.Sync(cmd.Context(), s.syncer, strategy)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("sync failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().String("strategy", "", "Merge strategy: local_wins, remote_wins or latest_wins")
	return cmd
}
