package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/promptgraph"
	"github.com/aretw0/promptgraph/internal/presentation/tui"
	httpAdapter "github.com/aretw0/promptgraph/pkg/adapters/http"
	"github.com/aretw0/promptgraph/pkg/adapters/prometheus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Opens a session to every device of the inventory and exposes them as a JSON API over HTTP, with a live event stream and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, _, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer env.Close()
		cfg := env.Config()

		addr, _ := cmd.Flags().GetString("listen")
		if !cmd.Flags().Changed("listen") && cfg.HTTP.Listen != "" {
			addr = cfg.HTTP.Listen
		}

		manager := env.NewManager()
		defer manager.CloseAll()

		serverOpts := []httpAdapter.Option{httpAdapter.WithVersion(promptgraph.Version)}
		if cfg.Metrics.Enabled {
			var mopts []prometheus.Option
			if cfg.Metrics.Namespace != "" {
				mopts = append(mopts, prometheus.WithNamespace(cfg.Metrics.Namespace))
			}
			metrics, err := prometheus.New(mopts...)
			if err != nil {
				return err
			}
			defer metrics.Unregister()
			env.Observe(metrics.Hooks())
			serverOpts = append(serverOpts, httpAdapter.WithMetricsHandler(metrics.Handler()))
		}
		server := httpAdapter.NewServer(manager, serverOpts...)
		env.Observe(server.Hooks())

		if err := env.OpenAll(cmd.Context(), manager); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Some devices are unavailable: %v\n", err)
		}

		srv := &http.Server{
			Addr:    addr,
			Handler: server.Handler(),
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		tui.PrintBanner(cmd.OutOrStdout())
		go func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Starting promptgraph server on %s\n", srv.Addr)
			fmt.Fprintf(cmd.OutOrStdout(), "Sessions: %v\n", manager.List())
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			fmt.Fprintf(cmd.OutOrStdout(), "\nStart shutdown... Signal: %v\n", sig)

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error killing server: %v\n", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "promptgraph server stopped gracefully")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", ":8080", "Address to listen on")
}
