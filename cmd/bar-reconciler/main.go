// Command bar-reconciler runs the standalone Bar Reconciler: once a minute it
// reconciles every configured instrument's minute grid against the broker's
// bounded history endpoint, per SPEC_FULL.md §4.5 and §6.
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

	"github.com/makeev/ingestd/internal/broker"
	"github.com/makeev/ingestd/internal/config"
	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/obs"
	"github.com/makeev/ingestd/internal/reconciler"
	"github.com/makeev/ingestd/internal/store"
)

const sessionPollInterval = 5 * time.Second

var (
	logLevel    string
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "bar-reconciler <config_path>",
		Short: "Run the Bar Reconciliation Engine",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "override the configured metrics listen address")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	logger := obs.NewLogger(cfg.LogLevel, "bar-reconciler")
	metrics, reg := obs.NewMetrics()

	st := store.NewRedisStore(cfg.Redis.Addr(), cfg.Redis.DB, cfg.Redis.Password)
	defer st.Close()

	session := &model.SessionState{}
	client := broker.NewPortalClient(config.PortalBaseURL, cfg.Username, cfg.Password, session, logger)
	client.EnableSharedSession(st, cfg.Secret)

	health := obs.NewHealth(st.Ping)
	rec := reconciler.New(client, st, cfg.Instruments, cfg.DashboardCSVPath, logger, metrics, health)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go obs.Serve(ctx, cfg.MetricsAddr, reg, health, logger)
	go pollSharedSession(ctx, client, logger)

	logger.Info("bar reconciler starting", "instruments", len(cfg.Instruments))
	rec.Run(ctx)
	logger.Info("bar reconciler stopped")
	return nil
}

func pollSharedSession(ctx context.Context, client *broker.PortalClient, logger *slog.Logger) {
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.LoadSession(ctx); err != nil {
				logger.Warn("failed to refresh shared session", "error", err)
			}
		}
	}
}
