package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrvl/livesync/internal/config"
	"github.com/mrvl/livesync/internal/logger"
	"github.com/mrvl/livesync/internal/model"
)

var (
	verbose   bool
	serverURL string
	token     string
	cfg       *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "livewatch",
		Short:         "Inspect and drive live match state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if verbose {
				level = "debug"
			}
			logger.Init(logger.Options{Level: level, File: cfg.LogFile, Dev: true, Out: os.Stderr})
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("LIVESYNC_SERVER", "http://localhost:8009"), "livesync server URL (or set LIVESYNC_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("LIVESYNC_TOKEN"), "bearer token (or set LIVESYNC_TOKEN)")

	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(remoteCmds()...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printUpdate writes one update as a single JSON line.
func printUpdate(w io.Writer, id string, u model.StampedUpdate) error {
	line, err := json.Marshal(struct {
		MatchID string              `json:"match_id"`
		Update  model.StampedUpdate `json:"update"`
	}{id, u})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(line))
	return err
}

// readDocument reads a match document from path, or stdin for "-".
func readDocument(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
