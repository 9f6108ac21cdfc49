package broker

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/makeev/ingestd/internal/model"
)

// memStore is a minimal in-process double of store.Store sufficient to
// exercise the shared session's remove-then-add replace idiom.
type memStore struct {
	mu   sync.Mutex
	sets map[string][]memMember
}

type memMember struct {
	score  int64
	member []byte
}

func newMemStore() *memStore { return &memStore{sets: make(map[string][]memMember)} }

func (m *memStore) RangeByScore(ctx context.Context, key string, lo, hi int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := append([]memMember(nil), m.sets[key]...)
	sort.Slice(members, func(i, j int) bool { return members[i].score < members[j].score })
	var out [][]byte
	for _, e := range members {
		if e.score >= lo && e.score <= hi {
			out = append(out, e.member)
		}
	}
	return out, nil
}

func (m *memStore) RemoveByScore(ctx context.Context, key string, lo, hi int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sets[key][:0]
	for _, e := range m.sets[key] {
		if e.score >= lo && e.score <= hi {
			continue
		}
		kept = append(kept, e)
	}
	m.sets[key] = kept
	return nil
}

func (m *memStore) Add(ctx context.Context, key string, member []byte, score int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), member...)
	m.sets[key] = append(m.sets[key], memMember{score: score, member: cp})
	return nil
}

func (m *memStore) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (m *memStore) Ping(ctx context.Context) error                                    { return nil }
func (m *memStore) Close() error                                                      { return nil }

func TestSharedSession_PersistAndLoadRoundTrip(t *testing.T) {
	st := newMemStore()

	writerSession := &model.SessionState{}
	writer := NewPortalClient("https://localhost:5000/v1/api", "alice", "pw", writerSession, testLogger())
	writer.EnableSharedSession(st, "correct-horse-battery-staple")
	writerSession.Set("cookie-value", "alice", true)

	if err := writer.persistShared(context.Background()); err != nil {
		t.Fatalf("persistShared: %v", err)
	}

	readerSession := &model.SessionState{}
	reader := NewPortalClient("https://localhost:5000/v1/api", "alice", "pw", readerSession, testLogger())
	reader.EnableSharedSession(st, "correct-horse-battery-staple")

	if err := reader.LoadSession(context.Background()); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if !readerSession.IsAuthenticated() {
		t.Fatalf("expected reader session authenticated after load")
	}
	if readerSession.CPCookie() != "cookie-value" {
		t.Fatalf("expected cookie-value, got %q", readerSession.CPCookie())
	}
	if got, _ := reader.Cookie("cp"); got != "cookie-value" {
		t.Fatalf("expected jar to carry the cp cookie, got %q", got)
	}
}

func TestSharedSession_WrongSecretFailsToDecrypt(t *testing.T) {
	st := newMemStore()

	writerSession := &model.SessionState{}
	writer := NewPortalClient("https://localhost:5000/v1/api", "alice", "pw", writerSession, testLogger())
	writer.EnableSharedSession(st, "secret-one")
	writerSession.Set("cookie-value", "alice", true)
	if err := writer.persistShared(context.Background()); err != nil {
		t.Fatalf("persistShared: %v", err)
	}

	readerSession := &model.SessionState{}
	reader := NewPortalClient("https://localhost:5000/v1/api", "alice", "pw", readerSession, testLogger())
	reader.EnableSharedSession(st, "secret-two")

	if err := reader.LoadSession(context.Background()); err == nil {
		t.Fatalf("expected decryption failure with mismatched secret")
	}
}

func TestSharedSession_LoadWithoutPublishIsNoop(t *testing.T) {
	st := newMemStore()
	session := &model.SessionState{}
	reader := NewPortalClient("https://localhost:5000/v1/api", "alice", "pw", session, testLogger())
	reader.EnableSharedSession(st, "secret")

	if err := reader.LoadSession(context.Background()); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if session.IsAuthenticated() {
		t.Fatalf("expected session to remain unauthenticated when nothing was published")
	}
}
