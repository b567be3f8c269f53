package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "mailmark",
		Short: "Remember which email you used to sign in where",
		Long: `mailmark records the email address used on each site's sign-in flow,
keeps a short most-recent-first history per root domain and can sync it
with a remote store.

Configuration is read from mailmark.yaml (or --config), MAILMARK_* environment
variables and flags, in increasing order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Path to config file (default ./mailmark.yaml)")
	pf.String("storage", "", "Storage backend: memory, sqlite, postgres, json or remote")
	pf.String("dsn", "", "Storage location: file path, connection string or base URL")
	pf.String("log-level", "", "Log level: debug, info, warn or error")
	pf.String("log-format", "", "Log format: text or json")
	pf.String("log-file", "", "Write logs to this file with rotation")

	root.AddCommand(
		newServeCmd(a),
		newScanCmd(a),
		newRecordCmd(a),
		newStatsCmd(a),
		newSyncCmd(a),
		newTrackingCmd(a, true),
		newTrackingCmd(a, false),
		newImportCmd(a),
		newClearCmd(a),
		newMessageCmd(a),
	)
	return root
}
