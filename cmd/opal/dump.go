package main

import (
	"github.com/spf13/cobra"

	"opal/internal/artifact"
	"opal/internal/ir"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <artifact>",
	Short: "Print an artifact's IR as text",
	Long:  "Dump works on both object-model and lowered artifacts.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := artifact.Load(args[0])
		if err != nil {
			return err
		}
		return ir.DumpModule(cmd.OutOrStdout(), b.Module, b.Types, b.Classes, ir.DumpOptions{})
	},
}
