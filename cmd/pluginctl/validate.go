package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <zip>",
		Short: "Validate a plugin package without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPackage(args[0])
			if err != nil {
				return err
			}
			info, err := g.validator().Validate(cmd.Context(), data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Plugin is valid.")
			printInfo(out, info)
			return nil
		},
	}
}
