package main

import (
	"fmt"

	"github.com/aretw0/promptgraph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <definition.yaml>",
	Short: "Export the state graph visualization",
	Long:  `Compiles a device definition and outputs a Mermaid diagram (graph TD) of its CLI modes and the commands between them.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := promptgraph.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), dev.Mermaid())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
