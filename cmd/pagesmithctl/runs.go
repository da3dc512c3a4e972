package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newRunsCmd(opts *clientOptions) *cobra.Command {
	var task string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := opts.url("/v1/runs")
			if len(args) == 1 {
				u += "/" + url.PathEscape(args[0])
			} else {
				q := url.Values{}
				if task != "" {
					q.Set("task", task)
				}
				if limit > 0 {
					q.Set("limit", strconv.Itoa(limit))
				}
				if len(q) > 0 {
					u += "?" + q.Encode()
				}
			}

			resp, err := opts.client().Get(u)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "only runs for this task")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs")
	return cmd
}

func newHealthCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Get(opts.url("/health"))
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}
