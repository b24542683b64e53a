package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"opal/internal/target"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the built-in target presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		header := color.New(color.Bold)
		header.Fprintf(out, "%-24s %5s %7s %14s\n", "TRIPLE", "PTR", "ALIGN", "COMPUTED GOTO")
		for _, t := range target.Presets() {
			cg := "no"
			if t.HasComputedGoto {
				cg = "yes"
			}
			fmt.Fprintf(out, "%-24s %4dB %6dB %14s\n", t.Triple, t.PtrSize, t.PtrAlign, cg)
		}
		return nil
	},
}
