package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTick_MarshalWireShape(t *testing.T) {
	tick := Tick{
		Dt:     time.Date(2024, 6, 3, 13, 30, 0, 123456000, time.UTC),
		Price:  189.5,
		Conid:  42,
		Symbol: "AAPL.NASDAQ",
	}

	raw, err := tick.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if m["dt"] != "2024-06-03 13:30:00.123456" {
		t.Fatalf("unexpected dt encoding: %v", m["dt"])
	}
	if m["price"].(float64) != 189.5 {
		t.Fatalf("unexpected price: %v", m["price"])
	}
	if m["conid"].(float64) != 42 {
		t.Fatalf("unexpected conid: %v", m["conid"])
	}
	if m["symbol"] != "AAPL.NASDAQ" {
		t.Fatalf("unexpected symbol: %v", m["symbol"])
	}
}
