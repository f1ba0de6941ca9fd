package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomwm/loom/internal/presentation/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export a stored canvas as a Mermaid diagram",
	Long:  `Loads the stored snapshot of a canvas and prints its nodes and connections as a Mermaid flowchart (graph LR).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(snap.Nodes, snap.Connections, nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("canvas", "", "Canvas id (default from config)")
}
