package tickstreamer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makeev/ingestd/internal/broker"
	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/obs"
)

// fakeClient implements broker.Client with just enough behavior for the
// Streamer: a fixed socket URL, everything else unused by this subsystem.
type fakeClient struct {
	socketURL string
}

func (f *fakeClient) LoadSession(ctx context.Context) error { return nil }
func (f *fakeClient) HistoryRequest(ctx context.Context, conid int, periodMinutes int) ([]broker.HistoryPoint, error) {
	return nil, nil
}
func (f *fakeClient) SocketURL() string                 { return f.socketURL }
func (f *fakeClient) Cookie(name string) (string, error) { return "test-cookie", nil }
func (f *fakeClient) SSOValidate(ctx context.Context) (string, bool, error) {
	return "user", true, nil
}
func (f *fakeClient) IServerAuthStatus(ctx context.Context) (bool, bool, error) {
	return true, false, nil
}
func (f *fakeClient) InitIServerSession(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeClient) PortalLogout(ctx context.Context) error               { return nil }
func (f *fakeClient) SSOLogout(ctx context.Context) error                  { return nil }
func (f *fakeClient) ObtainSession(ctx context.Context) (bool, error)      { return true, nil }
func (f *fakeClient) KeepSessionAlive(ctx context.Context) error           { return nil }

// fakeStore implements store.Store, recording every published payload.
type fakeStore struct {
	mu        sync.Mutex
	published []string
}

func (s *fakeStore) RangeByScore(ctx context.Context, key string, lo, hi int64) ([][]byte, error) {
	return nil, nil
}
func (s *fakeStore) RemoveByScore(ctx context.Context, key string, lo, hi int64) error { return nil }
func (s *fakeStore) Add(ctx context.Context, key string, member []byte, score int64) error {
	return nil
}
func (s *fakeStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, string(payload))
	return nil
}
func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestStreamer_SubscribesAndPublishesTick(t *testing.T) {
	srv := newMockSocketServer()
	defer srv.close()

	session := &model.SessionState{}
	session.Set("cp-cookie", "user", true)

	client := &fakeClient{socketURL: srv.wsURL()}
	st := &fakeStore{}
	instrument := model.Instrument{Conid: 42, Symbol: "AAPL", Exchange: "NASDAQ"}

	s := New(client, session, st, []model.Instrument{instrument}, testLogger(), nil, obs.NewHealth(func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); s.Run(ctx) }()

	waitFor(t, time.Second, func() bool {
		for _, m := range srv.received() {
			if m == `smd+42+{"fields":["31"]}` {
				return true
			}
		}
		return false
	})

	srv.broadcast(`{"topic":"smd+42","conid":42,"31":189.5,"_updated":1700000000000}`)

	waitFor(t, time.Second, func() bool { return st.count() == 1 })

	if got := st.published[0]; !strings.Contains(got, "189.5") {
		t.Fatalf("expected published tick to contain price, got %s", got)
	}

	cancel()
	<-done
}

func TestStreamer_ReconnectsAfterDrop(t *testing.T) {
	srv := newMockSocketServer()
	defer srv.close()

	session := &model.SessionState{}
	session.Set("cp-cookie", "user", true)

	client := &fakeClient{socketURL: srv.wsURL()}
	st := &fakeStore{}
	instrument := model.Instrument{Conid: 7, Symbol: "MSFT", Exchange: "NASDAQ"}

	s := New(client, session, st, []model.Instrument{instrument}, testLogger(), nil, obs.NewHealth(func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); s.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return len(srv.received()) > 0 })

	srv.dropLatest()

	// After reconnect, the Streamer must resubscribe; count subscribe frames
	// for conid 7 reaching at least two confirms the reconnect happened and
	// a fresh market-data frame produces exactly one more published tick
	// (no duplicate delivery across the reconnect boundary).
	waitFor(t, 5*time.Second, func() bool {
		n := 0
		for _, m := range srv.received() {
			if m == `smd+7+{"fields":["31"]}` {
				n++
			}
		}
		return n >= 2
	})

	srv.broadcast(`{"topic":"smd+7","conid":7,"31":310.25,"_updated":1700000000000}`)
	waitFor(t, time.Second, func() bool { return st.count() == 1 })

	cancel()
	<-done
}
