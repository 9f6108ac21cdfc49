package reconciler

import (
	"context"
	"sort"
	"sync"
)

// memStore is a minimal in-process sorted-set + pub/sub double, grounded on
// the actual semantics RedisStore provides (ZRANGEBYSCORE/ZREMRANGEBYSCORE/
// ZADD/PUBLISH), so the diff/gap-fill tests exercise real replace
// semantics rather than a stub that always succeeds.
type memStore struct {
	mu      sync.Mutex
	sets    map[string][]memMember
	pubs    []memPub
}

type memMember struct {
	score  int64
	member []byte
}

type memPub struct {
	channel string
	payload []byte
}

func newMemStore() *memStore {
	return &memStore{sets: make(map[string][]memMember)}
}

func (m *memStore) RangeByScore(ctx context.Context, key string, lo, hi int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	members := append([]memMember(nil), m.sets[key]...)
	sort.Slice(members, func(i, j int) bool { return members[i].score < members[j].score })
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

func (m *memStore) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pubs = append(m.pubs, memPub{channel: channel, payload: append([]byte(nil), payload...)})
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }
