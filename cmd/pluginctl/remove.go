package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name|name-version|id>",
		Aliases: []string{"rm"},
		Short:   "Remove an installed plugin",
		Long: `Remove an installed plugin and its stored archive.

A bare name is accepted only while a single version of it is installed.

Example:
  pluginctl remove synth-control-1.0.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := g.registry(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removing %s...\n", args[0])
			if err := reg.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(out, "Plugin removed.")
			return nil
		},
	}
}
