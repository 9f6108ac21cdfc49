package model

import "time"

// GridCell is one minute of the transient Minute Grid: the calendar verdict,
// what the store holds (Old), and what the Reconciler proposes to write
// (New). The grid is owned exclusively by one updateInstrument call and
// discarded after.
type GridCell struct {
	Ts     int64
	Dt     string
	IsOpen bool
	Old    *Bar
	New    *Bar
}

// MinuteGrid is a dense, timestamp-ordered view of one instrument's cells
// from `start` to the target minute, inclusive.
type MinuteGrid struct {
	Start time.Time
	order []int64
	cells map[int64]*GridCell
}

// NewMinuteGrid builds an empty grid with one cell per minute in
// [start, end], inclusive, at 1-minute steps.
func NewMinuteGrid(start, end time.Time) *MinuteGrid {
	g := &MinuteGrid{
		Start: start,
		cells: make(map[int64]*GridCell),
	}
	for t := start; !t.After(end); t = t.Add(time.Minute) {
		ts := t.Unix()
		g.order = append(g.order, ts)
		g.cells[ts] = &GridCell{Ts: ts, Dt: FormatDt(t)}
	}
	return g
}

// Cell returns the cell at ts, or nil if ts falls outside the grid's range.
func (g *MinuteGrid) Cell(ts int64) *GridCell {
	return g.cells[ts]
}

// Cells returns all cells in ascending timestamp order.
func (g *MinuteGrid) Cells() []*GridCell {
	out := make([]*GridCell, 0, len(g.order))
	for _, ts := range g.order {
		out = append(out, g.cells[ts])
	}
	return out
}

// Len returns the number of cells in the grid.
func (g *MinuteGrid) Len() int { return len(g.order) }
