package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-relay/internal/runtime"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves the configured pipelines over HTTP and reloads them when the
configuration file changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		logger := slog.Default()

		relay, err := runtime.New(
			runtime.WithLogger(logger),
			runtime.WithFileConfig(path),
		)
		if err != nil {
			return fmt.Errorf("create relay: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("start relay: %w", err)
		}

		var serveErr error
		select {
		case serveErr = <-relay.Done():
			logger.Error("server stopped", slog.Any("error", serveErr))
		case <-ctx.Done():
			logger.Info("shutdown signal received, stopping relay")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := relay.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
