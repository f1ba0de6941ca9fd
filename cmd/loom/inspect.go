package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomwm/loom/internal/presentation/tui"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a stored canvas",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}
		out := tui.Summary(snap)
		if raw, _ := cmd.Flags().GetBool("raw"); !raw && tui.IsTerminal() {
			if rendered, err := tui.NewRenderer()(out); err == nil {
				out = rendered
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("canvas", "", "Canvas id (default from config)")
	inspectCmd.Flags().Bool("raw", false, "Print markdown without terminal styling")
}
