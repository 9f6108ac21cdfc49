// Package tickstreamer implements the long-lived tick socket client,
// grounded on the teacher's separated reader/processor goroutine
// architecture (adapter/websocket/saxo_websocket.go,
// connection_manager.go) and the broker text protocol of the original
// get_trades_async.py, per SPEC_FULL.md §4.4.
package tickstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/makeev/ingestd/internal/broker"
	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/obs"
	"github.com/makeev/ingestd/internal/store"
)

// socketMessage wraps one inbound frame with its arrival time, following
// the teacher's websocketMessage pattern: the reader goroutine only ever
// reads and forwards, never processes, so a slow handler can't stall reads.
type socketMessage struct {
	data      []byte
	receivedAt time.Time
}

// Streamer runs the tick socket loop for a fixed set of instruments.
type Streamer struct {
	client  broker.Client
	session *model.SessionState
	store   store.Store
	byConid map[int]model.Instrument

	logger  *slog.Logger
	metrics *obs.Metrics
	health  *obs.Health

	mu          sync.Mutex
	conn        *websocket.Conn
	readCh      chan socketMessage
	reconnectCh chan error

	lastFrameAt time.Time
	lastEchoAt  time.Time
	lastTicAt   time.Time

	lastDataMu sync.Mutex
	lastDataAt map[int]time.Time

	iteration int
}

// New builds a Streamer for the given instruments.
func New(client broker.Client, session *model.SessionState, st store.Store, instruments []model.Instrument, logger *slog.Logger, metrics *obs.Metrics, health *obs.Health) *Streamer {
	byConid := make(map[int]model.Instrument, len(instruments))
	for _, i := range instruments {
		byConid[i.Conid] = i
	}
	return &Streamer{
		client:     client,
		session:    session,
		store:      st,
		byConid:    byConid,
		logger:     logger,
		metrics:    metrics,
		health:     health,
		lastDataAt: make(map[int]time.Time),
	}
}

// Run drives the connect/stream/reconnect loop until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) {
	defer s.closeConn()

	for {
		select {
		case <-ctx.Done():
			s.unsubscribeAll(context.Background())
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.logger.Error("connect failed", "error", err, "iteration", s.iteration)
			s.sleepReconnect(ctx, 3*time.Second)
			continue
		}

		s.subscribeAll()
		if s.health != nil {
			s.health.MarkReady()
		}

		cause := s.runSession(ctx)
		if cause == nil {
			s.unsubscribeAll(context.Background())
			return // ctx cancelled inside runSession
		}

		s.iteration++
		if s.metrics != nil {
			s.metrics.TickStreamerReconnects.Inc()
		}
		s.logger.Warn("socket session ended, reconnecting", "cause", cause, "iteration", s.iteration)
		s.closeConn()

		delay := 1 * time.Second
		if _, ok := cause.(*model.TransportError); ok {
			delay = 3 * time.Second
		}
		s.sleepReconnect(ctx, delay)
	}
}

func (s *Streamer) sleepReconnect(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (s *Streamer) connect(ctx context.Context) error {
	cp := s.session.CPCookie()
	if cp == "" || !s.session.IsAuthenticated() {
		return &model.TransportError{Op: "connect", Err: fmt.Errorf("no authenticated session")}
	}

	url := s.client.SocketURL()
	header := http.Header{}
	header.Set("Cookie", "cp="+cp)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return &model.TransportError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.readCh = make(chan socketMessage, 256)
	s.reconnectCh = make(chan error, 1)
	s.lastFrameAt = time.Now()
	s.lastEchoAt = time.Now()
	s.lastTicAt = time.Now()

	return nil
}

// runSession starts the reader, watchdog and processor goroutines (the
// processor also runs the once-a-second maintenance pass) for the current
// connection and blocks until the session ends: either a reconnect cause
// arrives, which it returns, or ctx is cancelled, in which case it returns
// nil and Run sends the shutdown unsubscribe frames.
func (s *Streamer) runSession(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.readLoop(sessionCtx) }()
	go func() { defer wg.Done(); s.watchdogLoop(sessionCtx) }()
	go func() { defer wg.Done(); s.processLoop(sessionCtx) }()

	var cause error
	select {
	case <-ctx.Done():
		cause = nil
	case cause = <-s.reconnectCh:
	}
	cancel()
	wg.Wait()
	return cause
}

func (s *Streamer) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			s.triggerReconnect(&model.TransportError{Op: "read", Err: err})
			return
		}

		msg := socketMessage{data: data, receivedAt: time.Now()}
		select {
		case s.readCh <- msg:
		case <-ctx.Done():
			return
		default:
			s.logger.Warn("read channel full, dropping frame")
		}
	}
}

func (s *Streamer) triggerReconnect(err error) {
	select {
	case s.reconnectCh <- err:
	default:
	}
}

func (s *Streamer) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			since := time.Since(s.lastFrameAt)
			s.mu.Unlock()
			if since > recvTimeoutSecs*time.Second {
				s.triggerReconnect(&model.TransportError{Op: "watchdog", Err: fmt.Errorf("no frame for %s", since)})
				return
			}
		}
	}
}

func (s *Streamer) processLoop(ctx context.Context) {
	maintenance := time.NewTicker(time.Second)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.readCh:
			s.mu.Lock()
			s.lastFrameAt = msg.receivedAt
			s.mu.Unlock()
			s.handleFrame(ctx, msg.data)
		case <-maintenance.C:
			s.runMaintenance(ctx)
		}
	}
}

func (s *Streamer) handleFrame(ctx context.Context, data []byte) {
	if string(data) == echoHeartbeatText {
		return // pong; nothing to do
	}

	frame, ok := parseFrame(data)
	if !ok {
		s.logger.Debug("protocol error: unparseable frame", "raw", string(data))
		return
	}

	switch {
	case frame.Message == waitingForSession:
		s.sendAuth()
	case len(frame.HB) > 0:
		s.handleHeartbeat()
	case frame.Topic == "sts" && frame.Args != nil && frame.Args.Authenticated != nil && !*frame.Args.Authenticated:
		s.session.MarkUnauthenticated()
		s.triggerReconnect(model.ErrUnauthenticated)
	case hasMarketData(frame):
		s.handleMarketData(ctx, frame)
	default:
		// system, nt, blt, tic, sor, uor, str, utr, spl, upl: acknowledge
		// and ignore, per SPEC_FULL.md §4.4.
	}
}

func hasMarketData(f *incomingFrame) bool {
	return f.Price != nil && f.Conid != nil
}

func (s *Streamer) sendAuth() {
	cp := s.session.CPCookie()
	s.writeText(authFrame(cp))
}

func (s *Streamer) handleHeartbeat() {
	if time.Since(s.lastEchoAt) >= echoEverySeconds*time.Second {
		s.writeText(echoHeartbeatText)
		s.lastEchoAt = time.Now()
	}
}

func (s *Streamer) handleMarketData(ctx context.Context, f *incomingFrame) {
	inst, ok := s.byConid[*f.Conid]
	if !ok {
		return
	}

	var updatedAt time.Time
	if f.Updated != nil {
		updatedAt = time.UnixMilli(*f.Updated).UTC()
	} else {
		updatedAt = time.Now().UTC()
	}

	tick := model.Tick{
		Dt:     updatedAt,
		Price:  *f.Price,
		Conid:  inst.Conid,
		Symbol: inst.Key(),
	}

	payload, err := tick.Marshal()
	if err != nil {
		s.logger.Warn("failed to encode tick", "error", err)
		return
	}
	if err := s.store.Publish(ctx, inst.TradesKey(), payload); err != nil {
		s.logger.Warn("failed to publish tick", "error", err, "symbol", inst.Symbol)
		s.triggerReconnect(err)
		return
	}
	if s.metrics != nil {
		s.metrics.TicksPublished.Inc()
	}

	s.lastDataMu.Lock()
	s.lastDataAt[inst.Conid] = time.Now()
	s.lastDataMu.Unlock()
}

func (s *Streamer) runMaintenance(ctx context.Context) {
	now := time.Now()

	s.lastDataMu.Lock()
	for conid := range s.byConid {
		last, seen := s.lastDataAt[conid]
		if !seen || now.Sub(last) > resubscribeSecs*time.Second {
			s.writeText(subscribeFrame(conid))
		}
	}
	s.lastDataMu.Unlock()

	if now.Sub(s.lastTicAt) >= ticEverySeconds*time.Second {
		s.writeText(tickFrame)
		s.lastTicAt = now
	}
}

func (s *Streamer) subscribeAll() {
	for conid := range s.byConid {
		s.writeText(subscribeFrame(conid))
	}
}

func (s *Streamer) unsubscribeAll(ctx context.Context) {
	for conid := range s.byConid {
		s.writeText(unsubscribeFrame(conid))
	}
}

func (s *Streamer) writeText(msg string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		s.logger.Warn("write failed", "error", err)
		s.triggerReconnect(&model.TransportError{Op: "write", Err: err})
	}
}

func (s *Streamer) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
		s.conn = nil
	}
}
