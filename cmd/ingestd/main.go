// Command ingestd runs the Session Keeper, Tick Streamer, and Bar
// Reconciler as goroutines in one process, sharing a single in-memory
// SessionState directly instead of round-tripping through shared session
// storage. Intended for local development and small deployments, per
// SPEC_FULL.md §6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/makeev/ingestd/internal/broker"
	"github.com/makeev/ingestd/internal/config"
	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/obs"
	"github.com/makeev/ingestd/internal/reconciler"
	"github.com/makeev/ingestd/internal/sessionkeeper"
	"github.com/makeev/ingestd/internal/store"
	"github.com/makeev/ingestd/internal/tickstreamer"
)

var (
	logLevel    string
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "ingestd <config_path>",
		Short: "Run the Session Keeper, Tick Streamer, and Bar Reconciler in one process",
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

	logger := obs.NewLogger(cfg.LogLevel, "ingestd")
	metrics, reg := obs.NewMetrics()

	st := store.NewRedisStore(cfg.Redis.Addr(), cfg.Redis.DB, cfg.Redis.Password)
	defer st.Close()

	// One PortalClient shared by all three subsystems: its cookie jar and
	// SessionState are the same instances the Session Keeper mutates, so
	// the Tick Streamer and Bar Reconciler see new sessions immediately
	// with no shared-storage round trip (cookiejar.Jar is safe for
	// concurrent use).
	session := &model.SessionState{}
	client := broker.NewPortalClient(config.PortalBaseURL, cfg.Username, cfg.Password, session, logger)

	health := obs.NewHealth(st.Ping)
	keeper := sessionkeeper.New(client, session, logger, metrics, health)
	streamer := tickstreamer.New(client, session, st, cfg.Instruments, logger, metrics, health)
	rec := reconciler.New(client, st, cfg.Instruments, cfg.DashboardCSVPath, logger, metrics, health)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go obs.Serve(ctx, cfg.MetricsAddr, reg, health, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); keeper.Run(ctx) }()
	go func() { defer wg.Done(); streamer.Run(ctx) }()
	go func() { defer wg.Done(); rec.Run(ctx) }()

	logger.Info("ingestd starting", "instruments", len(cfg.Instruments))
	wg.Wait()
	logger.Info("ingestd stopped")
	return nil
}
