// Package reconciler implements the per-minute Bar Reconciliation Engine:
// grid construction, gap filling against the broker's history endpoint, the
// diff/write pass, and the status dashboard, grounded on the original
// get_bars.py's loader/update_instrument/fill_gaps/update_dash functions,
// per SPEC_FULL.md §4.5.
package reconciler

import (
	"context"
	"time"

	"github.com/makeev/ingestd/internal/calendar"
	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/store"
)

// retentionWindow is how far back the grid reaches: IBKR-style history
// endpoints only return ~1000 minutes per request, but the grid itself
// spans further back so fillGaps can find the true last-open boundary.
const retentionWindow = 3 * 24 * time.Hour

// buildGrid constructs a dense minute grid from start to target inclusive,
// with each cell's IsOpen set from cal, then overlays whatever the store
// currently holds as each cell's Old bar.
func buildGrid(ctx context.Context, cal calendar.Calendar, st store.Store, instrument model.Instrument, start, target time.Time) (*model.MinuteGrid, error) {
	grid := model.NewMinuteGrid(start, target)
	for _, cell := range grid.Cells() {
		cell.IsOpen = cal.IsOpen(time.Unix(cell.Ts, 0).UTC())
	}

	raw, err := st.RangeByScore(ctx, instrument.TradesKey(), start.Unix(), 10_000_000_000)
	if err != nil {
		return nil, err
	}

	for _, member := range raw {
		bar, err := model.UnmarshalBar(member)
		if err != nil {
			return nil, err
		}
		ts, err := bar.Ts()
		if err != nil {
			continue
		}
		if cell := grid.Cell(ts); cell != nil {
			cell.Old = bar
		}
	}

	return grid, nil
}
