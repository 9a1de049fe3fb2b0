package main

import (
	"fmt"
	"io"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
)

func printInfo(w io.Writer, info plugin.Info) {
	fmt.Fprintf(w, "  id:      %s\n", info.ID)
	fmt.Fprintf(w, "  name:    %s\n", info.Name)
	fmt.Fprintf(w, "  version: %s\n", info.Version)
	fmt.Fprintf(w, "  author:  %s\n", info.Author)
	fmt.Fprintf(w, "  entry:   %s\n", info.Entry)
	if len(info.Assets) == 0 {
		return
	}
	fmt.Fprintln(w, "  assets:")
	for _, a := range info.Assets {
		fmt.Fprintf(w, "    - %s (%s)\n", a.Path, a.Type)
	}
}
