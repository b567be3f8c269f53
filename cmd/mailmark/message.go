package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/FranksOps/mailmark/internal/message"
	"github.com/spf13/cobra"
)

func newMessageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "message <json|->",
		Short: "Send one request to the message dispatcher",
		Long: `Dispatch a request such as {"type":"getStatistics"} exactly as the
HTTP /message endpoint would. Pass "-" to read the request from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(args[0])
			if args[0] == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = b
			}
			var req message.Request
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			d, err := a.dispatcher(s)
			if err != nil {
				return err
			}
			reply := d.Handle(cmd.Context(), req)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(reply); err != nil {
				return err
			}
			if !reply.Success {
				return fmt.Errorf("%s: %s", req.Type, reply.Error)
			}
			return nil
		},
	}
}
