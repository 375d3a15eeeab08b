package main

import (
	"fmt"
	"os"

	"github.com/aretw0/promptgraph/internal/cli"
	"github.com/aretw0/promptgraph/internal/config"
	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "promptgraph",
	Short: "promptgraph drives network appliance CLIs through a graph of prompts",
	Long: `promptgraph opens console sessions to routers, switches and firewalls,
moves them between CLI modes and runs commands where they belong.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "promptgraph.yaml", "Inventory file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the inventory")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json); overrides the inventory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Print every state transition")
}

// loadEnv reads the inventory and builds the session environment.
func loadEnv(cmd *cobra.Command) (*cli.Env, *tui.Renderer, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.LogFormat = format
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	renderer := tui.NewRenderer(cmd.OutOrStdout(), tui.WithVerbose(verbose))
	env := cli.NewEnv(cfg,
		cli.WithLogger(logging.New(level, logging.WithWriter(cmd.ErrOrStderr()), logging.WithFormat(format))),
		cli.WithHooks(renderer.Hooks()),
	)
	return env, renderer, nil
}
