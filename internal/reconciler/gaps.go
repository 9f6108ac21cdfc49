package reconciler

import (
	"context"
	"math"
	"time"

	"github.com/makeev/ingestd/internal/broker"
	"github.com/makeev/ingestd/internal/model"
)

// maxHistoryPeriodMinutes is the broker's enforced upper bound on a single
// history request, per SPEC_FULL.md §4.1.
const maxHistoryPeriodMinutes = 1000

// fillGaps ports fill_gaps/load_intervals_from_ibkr from the original
// loader: it finds the first cell whose stored data is missing or errored
// (within 1000 minutes of the latest open cell), requests just enough
// broker history to cover it, overlays the response onto the grid
// (inserting synthetic `empty` cells for any open minute the broker skipped
// over), and finally marks every still-gapless closed cell `closed:1`.
func fillGaps(ctx context.Context, client broker.Client, instrument model.Instrument, grid *model.MinuteGrid) error {
	lastOpenDt := time.Now().UTC().Add(-10 * 24 * time.Hour)
	for _, cell := range grid.Cells() {
		if cell.IsOpen {
			lastOpenDt = time.Unix(cell.Ts, 0).UTC()
		}
	}

	var firstBadDt time.Time
	haveFirstBad := false
	for _, cell := range grid.Cells() {
		dt := time.Unix(cell.Ts, 0).UTC()
		deltaMinutes := lastOpenDt.Sub(dt).Minutes()
		if deltaMinutes > maxHistoryPeriodMinutes {
			continue
		}
		if deltaMinutes < 0 {
			break
		}
		if cell.Old == nil || cell.Old.HasError() {
			firstBadDt = dt
			haveFirstBad = true
			break
		}
	}

	if haveFirstBad {
		period := int(math.Ceil(lastOpenDt.Sub(firstBadDt).Minutes())) + 5
		if period > maxHistoryPeriodMinutes {
			period = maxHistoryPeriodMinutes
		}
		if err := loadIntervalsFromBroker(ctx, client, instrument, period, grid); err != nil {
			return err
		}
	}

	for _, cell := range grid.Cells() {
		if !cell.IsOpen {
			if cell.Old == nil || cell.Old.HasError() {
				cell.New = &model.Bar{Dt: cell.Dt, Closed: 1}
			}
		}
	}

	return nil
}

// loadIntervalsFromBroker requests periodMinutes of history for instrument
// and overlays the returned bars onto matching grid cells, synthesizing
// `empty` cells for any calendar-open minute the broker's response jumps
// over (a gap of more than one minute between consecutive returned bars).
func loadIntervalsFromBroker(ctx context.Context, client broker.Client, instrument model.Instrument, periodMinutes int, grid *model.MinuteGrid) error {
	points, err := client.HistoryRequest(ctx, instrument.Conid, periodMinutes)
	if err != nil {
		return err
	}

	var prevDt time.Time
	hasPrev := false

	for _, p := range points {
		dt := time.UnixMilli(p.T).UTC().Truncate(time.Second)
		ts := dt.Unix()

		if hasPrev && dt.Sub(prevDt) > time.Minute {
			for gapDt := prevDt.Add(time.Minute); gapDt.Before(dt); gapDt = gapDt.Add(time.Minute) {
				if cell := grid.Cell(gapDt.Unix()); cell != nil && cell.IsOpen {
					cell.New = &model.Bar{Dt: model.FormatDt(gapDt), Empty: 1}
				}
			}
		}

		if cell := grid.Cell(ts); cell != nil {
			cell.New = &model.Bar{
				Dt:  model.FormatDt(dt),
				O:   model.FloatPtr(p.O),
				H:   model.FloatPtr(p.H),
				L:   model.FloatPtr(p.L),
				C:   model.FloatPtr(p.C),
				Vol: model.FloatPtr(p.V),
			}
		}

		prevDt = dt
		hasPrev = true
	}

	return nil
}
