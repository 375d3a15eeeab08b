package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/promptgraph"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of promptgraph",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "promptgraph version %s\n", strings.TrimSpace(promptgraph.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
