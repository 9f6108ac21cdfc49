package obs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the small, shared Prometheus surface every subsystem exposes
// when metrics_addr is configured (SPEC_FULL.md §6).
type Metrics struct {
	SessionKeeperTransitions *prometheus.CounterVec
	TickStreamerReconnects   prometheus.Counter
	TicksPublished           prometheus.Counter
	ReconcilerPassDuration   prometheus.Histogram
	ReconcilerCellsWritten   *prometheus.CounterVec
}

// NewMetrics registers the shared collector set against a fresh registry.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		SessionKeeperTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "session_keeper_transitions_total",
			Help: "Count of session keeper state machine transitions.",
		}, []string{"state"}),
		TickStreamerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "tick_streamer_reconnects_total",
			Help: "Count of tick streamer socket reconnects.",
		}),
		TicksPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "tick_streamer_ticks_published_total",
			Help: "Count of normalized ticks published.",
		}),
		ReconcilerPassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bar_reconciler_pass_duration_seconds",
			Help:    "Duration of one per-minute reconciliation pass.",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcilerCellsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bar_reconciler_cells_written_total",
			Help: "Count of grid cells written, by category.",
		}, []string{"category"}),
	}
	return m, reg
}

// Health is a simple atomic liveness flag: the HTTP /healthz handler
// returns 200 once the owning subsystem's main loop has completed at least
// one iteration and the store's Ping succeeds.
type Health struct {
	ready atomic.Bool
	ping  func(context.Context) error
}

// NewHealth builds a Health tracker backed by the given store ping func.
func NewHealth(ping func(context.Context) error) *Health {
	return &Health{ping: ping}
}

// MarkReady flips the liveness flag once the first loop iteration lands.
func (h *Health) MarkReady() { h.ready.Store(true) }

func (h *Health) handler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			http.Error(w, "store unreachable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Serve starts the /metrics and /healthz listener on addr and blocks until
// ctx is cancelled. A zero-value addr disables the server entirely.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, health *Health, logger *slog.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.handler)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}
