package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomwm/loom"
	"github.com/loomwm/loom/pkg/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of loom",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "loom version %s (protocol %d)\n", strings.TrimSpace(loom.Version), protocol.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
