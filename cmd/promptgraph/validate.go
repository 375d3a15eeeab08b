package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/promptgraph"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.yaml>...",
	Short: "Check device definitions for consistency",
	Long:  `Compiles each definition, crawls its graph from the entry state and reports unreachable states and states with no way out.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed []error
		for _, path := range args {
			if err := runValidate(path); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: validation failed: %v\n", path, err)
				failed = append(failed, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: graph is valid! ✅\n", path)
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d definitions invalid: %w", len(failed), len(args), errors.Join(failed...))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string) error {
	dev, err := promptgraph.Load(path)
	if err != nil {
		return err
	}
	return dev.Validate()
}
