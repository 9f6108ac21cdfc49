package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/makeev/ingestd/internal/broker"
	"github.com/makeev/ingestd/internal/calendar"
	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/obs"
	"github.com/makeev/ingestd/internal/store"
)

// perInstrumentDeadline bounds a single instrument's reconciliation for one
// target minute; exceeding it writes error=2 and moves to the next
// instrument, per SPEC_FULL.md §4.5.
const perInstrumentDeadline = 10 * time.Second

// retryInterval is the pause between unsuccessful updateInstrument attempts.
const retryInterval = 3 * time.Second

// Reconciler runs the per-minute Bar Reconciliation Engine for a fixed set
// of instruments, grounded on the original loader's outer minute loop.
type Reconciler struct {
	client      broker.Client
	store       store.Store
	calendars   *calendar.Registry
	instruments []model.Instrument

	logger  *slog.Logger
	metrics *obs.Metrics
	health  *obs.Health
	dash    *dashboard
}

// New builds a Reconciler. metrics and health may be nil; dashboardCSVPath
// may be empty to disable the status CSV emitter.
func New(client broker.Client, st store.Store, instruments []model.Instrument, dashboardCSVPath string, logger *slog.Logger, metrics *obs.Metrics, health *obs.Health) *Reconciler {
	return &Reconciler{
		client:      client,
		store:       st,
		calendars:   calendar.NewRegistry(),
		instruments: instruments,
		logger:      logger,
		metrics:     metrics,
		health:      health,
		dash:        newDashboard(dashboardCSVPath, st, instruments),
	}
}

// Run waits for each new minute boundary (mirroring the original loader's
// `seconds > 10` grace window so the broker has time to publish the
// just-closed minute) and reconciles every instrument against it.
func (r *Reconciler) Run(ctx context.Context) {
	var lastMinute time.Time

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()
		if now.Truncate(time.Minute).Equal(lastMinute.Truncate(time.Minute)) || now.Second() <= 10 {
			continue
		}
		lastMinute = now

		r.runMinute(ctx, now)
		if r.health != nil {
			r.health.MarkReady()
		}
	}
}

func (r *Reconciler) runMinute(ctx context.Context, wallNow time.Time) {
	start := time.Now()
	target := wallNow.Truncate(time.Minute).Add(-time.Minute)

	order := make([]model.Instrument, len(r.instruments))
	copy(order, r.instruments)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	minuteDeadlineMinute := wallNow.Minute()

	for _, instrument := range order {
		instrumentDeadline := time.Now().Add(perInstrumentDeadline)

		for {
			if time.Now().UTC().Minute() != minuteDeadlineMinute {
				r.writeErrorBar(ctx, instrument, target, 3)
				r.logger.Warn("minute rolled over mid-reconciliation", "symbol", instrument.Symbol)
				if r.metrics != nil {
					r.metrics.ReconcilerCellsWritten.WithLabelValues("error").Inc()
				}
				r.emitDashboard(ctx)
				if r.metrics != nil {
					r.metrics.ReconcilerPassDuration.Observe(time.Since(start).Seconds())
				}
				return
			}

			done, err := r.updateInstrument(ctx, instrument, target)
			if err != nil {
				r.logger.Error("updateInstrument failed", "function", "updateInstrument", "symbol", instrument.Symbol, "error", err)
			} else if done {
				break
			}

			if time.Now().After(instrumentDeadline) {
				r.writeErrorBar(ctx, instrument, target, 2)
				r.logger.Warn("per-instrument deadline exceeded", "symbol", instrument.Symbol)
				if r.metrics != nil {
					r.metrics.ReconcilerCellsWritten.WithLabelValues("error").Inc()
				}
				break
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryInterval):
			}
		}
	}

	r.emitDashboard(ctx)
	if r.metrics != nil {
		r.metrics.ReconcilerPassDuration.Observe(time.Since(start).Seconds())
	}
}

func (r *Reconciler) writeErrorBar(ctx context.Context, instrument model.Instrument, target time.Time, code int) {
	bar := &model.Bar{Dt: model.FormatDt(target), Error: code}
	if err := replaceData(ctx, r.store, instrument, bar, target.Unix()); err != nil {
		r.logger.Error("failed to write error bar", "function", "writeErrorBar", "symbol", instrument.Symbol, "error", err)
	}
}

func (r *Reconciler) emitDashboard(ctx context.Context) {
	if r.dash == nil {
		return
	}
	if err := r.dash.emit(ctx); err != nil {
		r.logger.Warn("dashboard emit failed", "function", "emitDashboard", "error", err)
	}
}

// updateInstrument ports update_instrument from the original loader: build
// the grid, load stored records, fill gaps, diff and write, and report
// whether the target minute is now settled.
func (r *Reconciler) updateInstrument(ctx context.Context, instrument model.Instrument, target time.Time) (bool, error) {
	// Retention boundary is anchored to the target minute rather than wall
	// clock: in production the two are always within a minute of each
	// other, and anchoring to target keeps the grid deterministic for a
	// given (instrument, target) pair.
	start := target.Truncate(time.Minute).Add(-retentionWindow)

	cal := r.calendars.For(instrument.CalendarCode())

	grid, err := buildGrid(ctx, cal, r.store, instrument, start, target)
	if err != nil {
		var decodeErr *model.DecodeError
		if errors.As(err, &decodeErr) {
			return false, nil
		}
		return false, err
	}

	if err := fillGaps(ctx, r.client, instrument, grid); err != nil {
		r.logger.Error("fillGaps failed", "function", "fillGaps", "symbol", instrument.Symbol, "error", err)
	}

	if err := diffAndWrite(ctx, r.store, instrument, grid, target); err != nil {
		return false, err
	}

	targetCell := grid.Cell(target.Unix())
	if targetCell == nil {
		return false, nil
	}

	done := targetCell.New != nil || (targetCell.Old != nil && !targetCell.Old.HasError())
	return done, nil
}
