package tickstreamer

import (
	"encoding/json"
	"fmt"
)

// incomingFrame is the superset JSON shape of every frame the broker socket
// sends, per SPEC_FULL.md §4.4/§6. Fields absent on the wire decode as nil
// or zero values; dispatch in streamer.go treats presence, not value, as
// the routing signal for most of these.
type incomingFrame struct {
	Message string          `json:"message"`
	Topic   string          `json:"topic"`
	HB      json.RawMessage `json:"hb"`
	Updated *int64          `json:"_updated"`
	Price   *float64        `json:"31"`
	Conid   *int            `json:"conid"`
	Args    *struct {
		Authenticated *bool `json:"authenticated"`
	} `json:"args"`
}

const (
	echoHeartbeatText = "ech+hb"
	waitingForSession = "waiting for session"
)

func parseFrame(raw []byte) (*incomingFrame, bool) {
	var f incomingFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	return &f, true
}

func authFrame(cp string) string {
	return fmt.Sprintf(`{"session":"%s"}`, cp)
}

// subscribeFrame builds the `smd+<conid>+{"fields":["31"]}` wire command.
func subscribeFrame(conid int) string {
	return fmt.Sprintf(`smd+%d+{"fields":["31"]}`, conid)
}

// unsubscribeFrame builds the shutdown unsubscribe command. Preserved
// literally without a "+" before the trailing braces, matching the
// original socket client's wire format exactly (SPEC_FULL.md §9).
func unsubscribeFrame(conid int) string {
	return fmt.Sprintf(`umd+%d{}`, conid)
}

const (
	tickFrame        = "tic"
	ticEverySeconds  = 60
	echoEverySeconds = 30
	recvTimeoutSecs  = 15
	resubscribeSecs  = 10
)
