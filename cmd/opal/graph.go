package main

import (
	"os"

	"github.com/spf13/cobra"

	"opal/internal/artifact"
	"opal/internal/callgraph"
	"opal/internal/lower"
)

var (
	graphOutput string
	graphTitle  string
)

func init() {
	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", "", "write DOT to a file instead of stdout")
	graphCmd.Flags().StringVar(&graphTitle, "title", "", "graph title (default: module name)")
}

var graphCmd = &cobra.Command{
	Use:   "graph [flags] <artifact>",
	Short: "Emit an artifact's call graph as DOT",
	Long: "Graph walks every reachable call site. Virtual calls fan out to every\n" +
		"implementation the class hierarchy admits, drawn as dashed edges.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := artifact.Load(args[0])
		if err != nil {
			return err
		}
		g, err := callgraph.Build(b.Module, b.Types, lower.CHAResolver{Classes: b.Classes})
		if err != nil {
			return err
		}
		title := graphTitle
		if title == "" {
			title = b.Module.Name
		}
		if graphOutput == "" {
			return g.WriteDOT(cmd.OutOrStdout(), title)
		}
		f, err := os.Create(graphOutput)
		if err != nil {
			return err
		}
		if err := g.WriteDOT(f, title); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}
