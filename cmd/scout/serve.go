package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"scout/internal/config"
	"scout/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the scan scheduler",
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

		metrics.MustRegister(prometheus.DefaultRegisterer)
		if cfg.MetricsAddr != "" {
			metrics.StartServer(ctx, log, cfg.MetricsAddr)
		}

		log.Info("starting bot")

		go a.sched.Run(ctx)

		a.bot.Run(ctx)

		log.Info("bot stopped")
		return nil
	},
}
