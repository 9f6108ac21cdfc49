// Command session-keeper runs the standalone Session Keeper: it owns the
// broker portal's authentication state machine and exposes nothing else, per
// SPEC_FULL.md §4.3 and §6.
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
	"github.com/makeev/ingestd/internal/sessionkeeper"
	"github.com/makeev/ingestd/internal/store"
)

// sessionTTL and earlyRefreshBy size the proactive token-source refresh
// below: the portal session is assumed valid for sessionTTL, and
// EarlyRefreshSource triggers a fresh ObtainSession earlyRefreshBy before
// that assumed expiry lands, so the state machine's reactive fullRelogin
// path is rarely the first line of defense.
const (
	sessionTTL     = 5 * time.Minute
	earlyRefreshBy = 30 * time.Second
)

var (
	logLevel    string
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "session-keeper <config_path>",
		Short: "Run the broker Session Keeper",
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

	logger := obs.NewLogger(cfg.LogLevel, "session-keeper")
	metrics, reg := obs.NewMetrics()

	st := store.NewRedisStore(cfg.Redis.Addr(), cfg.Redis.DB, cfg.Redis.Password)
	defer st.Close()

	session := &model.SessionState{}
	client := broker.NewPortalClient(config.PortalBaseURL, cfg.Username, cfg.Password, session, logger)
	client.EnableSharedSession(st, cfg.Secret)

	health := obs.NewHealth(st.Ping)
	keeper := sessionkeeper.New(client, session, logger, metrics, health)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go obs.Serve(ctx, cfg.MetricsAddr, reg, health, logger)
	go keepTokenWarm(ctx, client, logger)

	logger.Info("session keeper starting", "paper", cfg.Paper)
	keeper.Run(ctx)
	logger.Info("session keeper stopped")
	return nil
}

// keepTokenWarm drives EarlyRefreshSource's Token() call once per its own
// early-refresh cadence so the session is renewed ahead of its assumed TTL
// rather than only after checkIServer first observes it stale.
func keepTokenWarm(ctx context.Context, client *broker.PortalClient, logger *slog.Logger) {
	ts := broker.EarlyRefreshSource(ctx, client, sessionTTL, earlyRefreshBy)

	ticker := time.NewTicker(earlyRefreshBy)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ts.Token(); err != nil {
				logger.Debug("proactive token refresh skipped", "error", err)
			}
		}
	}
}
