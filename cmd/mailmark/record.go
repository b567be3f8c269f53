package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/FranksOps/mailmark/internal/observer"
	"github.com/spf13/cobra"
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		bodyFile    string
		contentType string
		kind        string
		pageURL     string
	)
	cmd := &cobra.Command{
		Use:   "record <url>",
		Short: "Run one captured request through the observer",
		Long: `Feed a single request URL, with an optional response body, through the
same extraction used by the server and scanner. Useful to check whether a
sign-in flow would be recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := observer.NewEvent(observer.Kind(kind), "cli", args[0])
			ev.PageURL = pageURL
			ev.ContentType = contentType
			if bodyFile != "" {
				body, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("read body: %w", err)
				}
				ev.Body = body
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			obs, err := observer.New(a.cfg.Rules, s.svc, a.logger)
			if err != nil {
				return err
			}
			defer obs.Close()

			out, ok := obs.Observe(cmd.Context(), ev)
			if !ok {
				if out.Paused {
					fmt.Fprintln(cmd.OutOrStdout(), "tracking is paused, nothing recorded")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing recorded")
				}
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&bodyFile, "body", "", "File holding the response body")
	f.StringVar(&contentType, "content-type", "", "Content type of the body")
	f.StringVar(&kind, "kind", string(observer.KindRequest), "Event kind: request, navigation or formSubmit")
	f.StringVar(&pageURL, "page", "", "Top-level page URL the request belongs to")
	return cmd
}
