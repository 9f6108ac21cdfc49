package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/store"
)

// replaceData performs the store's two-step replacement semantics
// (removeByScore then add), then publishes the bar with conid/symbol
// attached to the bar channel, per SPEC_FULL.md §4.5.
func replaceData(ctx context.Context, st store.Store, instrument model.Instrument, bar *model.Bar, ts int64) error {
	if err := st.RemoveByScore(ctx, instrument.TradesKey(), ts, ts); err != nil {
		return err
	}
	payload, err := bar.Marshal()
	if err != nil {
		return err
	}
	if err := st.Add(ctx, instrument.TradesKey(), payload, ts); err != nil {
		return err
	}

	published := struct {
		model.Bar
		Conid  int    `json:"conid"`
		Symbol string `json:"symbol"`
	}{Bar: *bar, Conid: instrument.Conid, Symbol: instrument.Key()}
	publishPayload, err := json.Marshal(published)
	if err != nil {
		return err
	}
	return st.Publish(ctx, instrument.BarsChannel(), publishPayload)
}

// diffAndWrite walks the grid in timestamp order and writes corrections per
// SPEC_FULL.md §4.5 step 4: a fix write when old and new disagree after
// stripping transient flags, a late write for a new bar at a minute
// strictly earlier than target, and a fresh write otherwise.
func diffAndWrite(ctx context.Context, st store.Store, instrument model.Instrument, grid *model.MinuteGrid, target time.Time) error {
	for _, cell := range grid.Cells() {
		switch {
		case cell.Old != nil:
			if cell.New != nil && !cell.New.Equal(cell.Old) {
				cell.New.Fix = 1
				if err := replaceData(ctx, st, instrument, cell.New, cell.Ts); err != nil {
					return err
				}
			}
		case cell.New != nil:
			cellDt, err := time.ParseInLocation("2006-01-02 15:04:05", cell.Dt, time.UTC)
			if err == nil && cellDt.Before(target) {
				cell.New.Late = 1
			}
			if err := replaceData(ctx, st, instrument, cell.New, cell.Ts); err != nil {
				return err
			}
		}
	}
	return nil
}
