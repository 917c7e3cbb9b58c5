// Command campaignctl is the operator CLI for the campaign engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/masgolf/golang_services/internal/campaign_service/bootstrap"
	"github.com/masgolf/golang_services/internal/platform/config"
	"github.com/masgolf/golang_services/internal/platform/logger"
)

const appName = "campaignctl"

var (
	verbose bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "campaignctl",
	Short: "Plan, schedule and dispatch messaging campaigns",
	Long: `campaignctl drives the campaign engine directly against its database.

Drafts are created from the customer store or a CSV of recipients, split into
provider-sized batches, scheduled or sent, and reconciled against provider
delivery reports. Output is JSON on stdout; logs go to stderr.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(createDraftCmd, editCmd, attachMediaCmd, splitCmd, deleteCmd, lintCmd)
	rootCmd.AddCommand(scheduleCmd, unscheduleCmd, sendNowCmd, resyncCmd, followUpCmd)
	rootCmd.AddCommand(showCmd, listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withEngine wires the engine for one command and tears it down afterwards.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, c *bootstrap.Components) error) error {
	cfg, err := config.Load(appName)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(appName, level, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{AppName: appName})
	defer c.Close()
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid campaign id %q", s)
	}
	return id, nil
}
