package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newSubmitCmd(opts *clientOptions) *cobra.Command {
	var round int
	cmd := &cobra.Command{
		Use:   "submit <request.json|->",
		Short: "Send a generation request and print the service response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var b []byte
			var err error
			if args[0] == "-" {
				b, err = io.ReadAll(cmd.InOrStdin())
			} else {
				b, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			if round > 0 {
				var fields map[string]json.RawMessage
				if err := json.Unmarshal(b, &fields); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}
				fields["round"] = json.RawMessage(fmt.Sprint(round))
				if b, err = json.Marshal(fields); err != nil {
					return err
				}
			}

			resp, err := opts.client().Post(opts.url("/api-endpoint"), "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().IntVar(&round, "round", 0, "override the round in the request file")
	return cmd
}
