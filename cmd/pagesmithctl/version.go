package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/throw-if-null/pagesmith/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pagesmithctl %s (%s)\n", version.Version, version.Commit)
		},
	}
}
