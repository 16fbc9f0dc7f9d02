package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scout/internal/config"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan sweep and exit",
	Long: `Scan every due target once, deliver new matches and print a summary.

Intended for running from an external scheduler such as cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			slog.Error("load config", "error", err)
			return err
		}
		log := newLogger(cfg.LogLevel)

		a, err := newApp(cfg, log)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		report, err := a.sched.RunDueScans(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "due:           %d\n", report.Due)
		fmt.Fprintf(out, "processed:     %d\n", report.Processed)
		fmt.Fprintf(out, "failed:        %d\n", report.Failed)
		fmt.Fprintf(out, "rate limited:  %d\n", report.RateLimited)
		fmt.Fprintf(out, "items checked: %d\n", report.ItemsChecked)
		fmt.Fprintf(out, "new matches:   %d\n", report.NewMatches)
		fmt.Fprintf(out, "duplicates:    %d\n", report.Duplicates)
		fmt.Fprintf(out, "redelivered:   %d\n", report.Redelivered)
		return nil
	},
}
