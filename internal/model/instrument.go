package model

import "fmt"

// Instrument is an immutable descriptor loaded once at startup and read-only
// thereafter; it is shared, never mutated, across all three subsystems.
type Instrument struct {
	Conid    int    `yaml:"conid" json:"conid"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Exchange string `yaml:"exchange" json:"exchange"`
}

// CalendarExchange maps the configured exchange code to the calendar code
// that backs its trading schedule, per SPEC_FULL.md §6.
var CalendarExchange = map[string]string{
	"NASDAQ": "NASDAQ",
	"NYMEX":  "NYSE",
	"NYSE":   "NYSE",
	"ARCA":   "NYSE",
	"GLOBEX": "CME_Rate",
}

// Key returns the sorted-set / pub-sub suffix "<symbol>.<exchange>".
func (i Instrument) Key() string {
	return fmt.Sprintf("%s.%s", i.Symbol, i.Exchange)
}

// TradesKey returns the channel/set name used for ticks and bars:
// "<symbol>.<exchange>:TRADES".
func (i Instrument) TradesKey() string {
	return i.Key() + ":TRADES"
}

// BarsChannel returns the channel name bar writes are published to:
// "<symbol>.<exchange>:BARS".
func (i Instrument) BarsChannel() string {
	return i.Key() + ":BARS"
}

// CalendarCode resolves the instrument's exchange to its calendar code, or
// the empty string if the exchange is not one of the known set.
func (i Instrument) CalendarCode() string {
	return CalendarExchange[i.Exchange]
}
