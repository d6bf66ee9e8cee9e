package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"draftdesk/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "draftdeskctl %s\n", info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), " - git: %s\n", info.GitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), " - built: %s\n", info.BuildDate)
			return nil
		},
	}
}
