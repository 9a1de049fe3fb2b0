package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			vi := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pluginctl %s\n", vi.String())
			if vi.BuildDate != "" {
				fmt.Fprintf(out, "  built:  %s\n", vi.BuildDate)
			}
		},
	}
}
