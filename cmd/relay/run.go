package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline> [message]",
	Short: "Run a pipeline and stream its progress to stdout",
	Long: `Runs one pipeline and writes its progress events to stdout as NDJSON.
The message is read from stdin when it is not given as an argument.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		journal, _ := cmd.Flags().GetString("journal")

		message, err := readMessage(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if journal != "" {
			cfg.Journal.Type = journal
		}

		relay, err := runtime.New(
			runtime.WithConfig(cfg),
			runtime.WithTraceWriter(cmd.ErrOrStderr()),
		)
		if err != nil {
			return err
		}
		if err := relay.Load(cmd.Context()); err != nil {
			return err
		}
		defer relay.Shutdown(cmd.Context())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		snap, err := relay.Stream(ctx, args[0], message, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if snap != nil && snap.FailureReason != "" {
			return fmt.Errorf("run %s: %s", snap.ID, snap.FailureReason)
		}
		return nil
	},
}

func readMessage(args []string, stdin io.Reader) (string, error) {
	var message string
	if len(args) > 1 {
		message = args[1]
	} else {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read message: %w", err)
		}
		message = strings.TrimRight(string(data), "\r\n")
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message is required")
	}
	return message, nil
}

func init() {
	runCmd.Flags().String("journal", "", "Override journal.type (sqlite, redis, memory, none)")
	rootCmd.AddCommand(runCmd)
}
