package model

import (
	"encoding/json"
	"reflect"
	"time"
)

const dtLayout = "2006-01-02 15:04:05"

// Bar is a minute-aligned OHLCV record together with its provenance flags.
// At most one of Empty/Closed/Error is ever set by this package; Fix and
// Late may qualify a numeric bar. JSON-encoded it is the exact byte string
// stored as a sorted-set member, score = Ts (whole seconds UTC).
type Bar struct {
	Dt  string   `json:"dt"`
	O   *float64 `json:"o,omitempty"`
	H   *float64 `json:"h,omitempty"`
	L   *float64 `json:"l,omitempty"`
	C   *float64 `json:"c,omitempty"`
	Vol *float64 `json:"vol,omitempty"`

	Empty  int `json:"empty,omitempty"`
	Closed int `json:"closed,omitempty"`
	Error  int `json:"error,omitempty"`
	Fix    int `json:"fix,omitempty"`
	Late   int `json:"late,omitempty"`

	// Avg, Cnt, Rth are never written by this implementation but may be
	// present on bars written by other producers; they are stripped before
	// any equality comparison, per the diff invariant in SPEC_FULL.md §3.
	Avg *float64 `json:"avg,omitempty"`
	Cnt *int     `json:"cnt,omitempty"`
	Rth *int     `json:"rth,omitempty"`
}

// Ts returns the whole-seconds-UTC timestamp encoded in Dt. Dt is assumed to
// already be in the "YYYY-MM-DD HH:MM:SS" UTC layout this package writes.
func (b *Bar) Ts() (int64, error) {
	t, err := time.ParseInLocation(dtLayout, b.Dt, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// FormatDt renders a UTC minute boundary in the store's wall-clock layout.
func FormatDt(t time.Time) string {
	return t.UTC().Format(dtLayout)
}

// Marshal returns the compact JSON encoding used for sorted-set members and
// pub/sub payloads. encoding/json.Marshal already omits whitespace and the
// struct's declared field order keeps the encoding deterministic, which is
// what the round-trip invariant in SPEC_FULL.md §8 requires.
func (b *Bar) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBar decodes a stored member back into a Bar. A JSON syntax error
// here is a DecodeError per SPEC_FULL.md §7.
func UnmarshalBar(raw []byte) (*Bar, error) {
	var b Bar
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, &DecodeError{Raw: string(raw), Err: err}
	}
	return &b, nil
}

// StripTransient returns a copy of b with the flags that never participate
// in equality comparisons against an incoming bar cleared: late, fix, avg,
// cnt, rth.
func (b *Bar) StripTransient() *Bar {
	cp := *b
	cp.Fix = 0
	cp.Late = 0
	cp.Avg = nil
	cp.Cnt = nil
	cp.Rth = nil
	return &cp
}

// Equal reports whether two bars are identical once transient flags are
// stripped from both sides. Used by the Reconciler's diff pass to decide
// whether an incoming bar requires a fix write.
func (b *Bar) Equal(other *Bar) bool {
	if b == nil || other == nil {
		return b == other
	}
	return reflect.DeepEqual(b.StripTransient(), other.StripTransient())
}

// HasError reports whether the bar carries a non-zero error flag.
func (b *Bar) HasError() bool { return b != nil && b.Error != 0 }

// FloatPtr is a small helper for building Bar literals from broker history
// points, which hand back plain float64 values.
func FloatPtr(v float64) *float64 { return &v }
