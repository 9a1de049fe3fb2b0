package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <zip>",
		Short: "Validate and install a plugin package",
		Long: `Validate and install a plugin package.

Installing a name and version that is already present replaces it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPackage(args[0])
			if err != nil {
				return err
			}
			reg, err := g.registry(cmd)
			if err != nil {
				return err
			}
			info, err := reg.Install(cmd.Context(), data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Plugin added.")
			printInfo(out, info)
			return nil
		},
	}
}
