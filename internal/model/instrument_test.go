package model

import "testing"

func TestInstrument_KeysAndChannels(t *testing.T) {
	inst := Instrument{Conid: 1, Symbol: "AAPL", Exchange: "NASDAQ"}

	if got := inst.Key(); got != "AAPL.NASDAQ" {
		t.Fatalf("unexpected Key(): %q", got)
	}
	if got := inst.TradesKey(); got != "AAPL.NASDAQ:TRADES" {
		t.Fatalf("unexpected TradesKey(): %q", got)
	}
	if got := inst.BarsChannel(); got != "AAPL.NASDAQ:BARS" {
		t.Fatalf("unexpected BarsChannel(): %q", got)
	}
}

func TestInstrument_CalendarCode(t *testing.T) {
	cases := []struct {
		exchange string
		want     string
	}{
		{"NASDAQ", "NASDAQ"},
		{"NYSE", "NYSE"},
		{"NYMEX", "NYSE"},
		{"ARCA", "NYSE"},
		{"GLOBEX", "CME_Rate"},
		{"UNKNOWN", ""},
	}
	for _, c := range cases {
		inst := Instrument{Symbol: "X", Exchange: c.exchange}
		if got := inst.CalendarCode(); got != c.want {
			t.Fatalf("exchange %q: expected calendar code %q, got %q", c.exchange, c.want, got)
		}
	}
}
