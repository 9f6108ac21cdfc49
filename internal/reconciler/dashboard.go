package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/store"
)

// dashboardHours is the trailing window, in hours, the status CSV covers,
// per SPEC_FULL.md §4.5. Each clock-hour bucket overlapping that window gets
// a row: dashboardHours+1 buckets, the current partial hour included.
const dashboardHours = 120

// dashboard emits the per-instrument, per-hour status CSV, porting
// get_stats_for_hour/update_dash from the original loader.
type dashboard struct {
	path        string
	store       store.Store
	instruments []model.Instrument
}

func newDashboard(path string, st store.Store, instruments []model.Instrument) *dashboard {
	if path == "" {
		return nil
	}
	return &dashboard{path: path, store: st, instruments: instruments}
}

type hourStats struct {
	ok, closed, errorN, fix, empty int
}

// classify applies the category precedence from SPEC_FULL.md §4.5: error,
// then closed, then empty, then fix-or-late, else ok. A decode failure
// counts as error.
func classify(raw []byte) string {
	bar, err := model.UnmarshalBar(raw)
	if err != nil {
		return "error"
	}
	switch {
	case bar.Error != 0:
		return "error"
	case bar.Closed != 0:
		return "closed"
	case bar.Empty != 0:
		return "empty"
	case bar.Fix != 0 || bar.Late != 0:
		return "fix"
	default:
		return "ok"
	}
}

func (d *dashboard) emit(ctx context.Context) error {
	end := time.Now().UTC()
	start := end.Add(-dashboardHours * time.Hour).Truncate(time.Hour)

	buf := "ticker,group,ok,closed,error,fix,empty\n"

	for _, instrument := range d.instruments {
		key := instrument.Key()
		bucket := start

		for i := 0; i < dashboardHours+1 && !bucket.After(end); i++ {
			lo := bucket.Unix()
			hi := lo + 3599

			raw, err := d.store.RangeByScore(ctx, instrument.TradesKey(), lo, hi)
			if err != nil {
				return err
			}

			var stats hourStats
			for _, member := range raw {
				switch classify(member) {
				case "ok":
					stats.ok++
				case "closed":
					stats.closed++
				case "error":
					stats.errorN++
				case "fix":
					stats.fix++
				case "empty":
					stats.empty++
				}
			}

			buf += fmt.Sprintf("%s,%s,%d,%d,%d,%d,%d\n",
				key, bucket.Format("2006-01-02 15:04:05"),
				stats.ok, stats.closed, stats.errorN, stats.fix, stats.empty)

			bucket = bucket.Add(time.Hour)
		}
	}

	return writeAtomic(d.path, buf)
}

// writeAtomic writes content to a temp file beside path then renames it
// into place, so a concurrent reader never observes a partial file.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".dashboard-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
