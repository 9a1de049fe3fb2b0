package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(g *globalFlags) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := g.registry(cmd)
			if err != nil {
				return err
			}
			infos, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "No plugins installed.")
				return nil
			}
			fmt.Fprintln(out, "Installed plugins:")
			for _, info := range infos {
				if long {
					printInfo(out, info)
					continue
				}
				fmt.Fprintf(out, "  %s v%s by %s (%s)\n", info.Name, info.Version, info.Author, info.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "print every field of each plugin")
	return cmd
}
