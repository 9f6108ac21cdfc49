package model

import (
	"encoding/json"
	"time"
)

// Tick is a normalized last-trade event. It is never persisted, only
// republished on the instrument's TRADES channel.
type Tick struct {
	Dt     time.Time `json:"dt"`
	Price  float64   `json:"price"`
	Conid  int       `json:"conid"`
	Symbol string    `json:"symbol"`
}

// tickWire is the JSON shape actually published: dt rendered the way the
// broker's own `_updated` field would print, to stay wire-compatible with
// downstream subscribers that predate this rewrite.
type tickWire struct {
	Dt     string  `json:"dt"`
	Price  float64 `json:"price"`
	Conid  int     `json:"conid"`
	Symbol string  `json:"symbol"`
}

// Marshal encodes the tick for publication.
func (t Tick) Marshal() ([]byte, error) {
	w := tickWire{
		Dt:     t.Dt.UTC().Format("2006-01-02 15:04:05.000000"),
		Price:  t.Price,
		Conid:  t.Conid,
		Symbol: t.Symbol,
	}
	return json.Marshal(w)
}
