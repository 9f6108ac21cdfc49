// Package calendar answers "was this exchange open at this UTC minute",
// backed by a small built-in session table and a bounded per-exchange LRU
// cache, following the memoization strategy SPEC_FULL.md §9 calls for
// (the legacy Python source memoizes the same query with functools.cache).
package calendar

import (
	"container/list"
	"sync"
	"time"
)

// Session is one trading session window, in UTC, for a calendar day.
type Session struct {
	Open  time.Time
	Close time.Time
}

// Calendar answers open/closed queries for one calendar code.
type Calendar interface {
	// IsOpen reports whether the exchange is open at the given UTC minute,
	// including configured pre/post extended sessions.
	IsOpen(minute time.Time) bool
}

// cacheCapacity bounds the per-exchange LRU so long-running processes don't
// grow memory without limit; eviction is not required for correctness
// within a process lifetime, only for long-run memory hygiene.
const cacheCapacity = 200_000

// lruCalendar wraps a Schedule with a bounded LRU keyed by the minute's
// Unix timestamp, matching the (exchange, minute) memoization in
// SPEC_FULL.md §9.
type lruCalendar struct {
	schedule Schedule

	mu    sync.Mutex
	items map[int64]*list.Element
	order *list.List // front = most recently used
}

type lruEntry struct {
	ts    int64
	isOpen bool
}

func newLRUCalendar(s Schedule) *lruCalendar {
	return &lruCalendar{
		schedule: s,
		items:    make(map[int64]*list.Element),
		order:    list.New(),
	}
}

func (c *lruCalendar) IsOpen(minute time.Time) bool {
	ts := minute.UTC().Unix()

	c.mu.Lock()
	if el, ok := c.items[ts]; ok {
		c.order.MoveToFront(el)
		isOpen := el.Value.(*lruEntry).isOpen
		c.mu.Unlock()
		return isOpen
	}
	c.mu.Unlock()

	isOpen := c.schedule.openAt(minute.UTC())

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[ts]; !ok {
		el := c.order.PushFront(&lruEntry{ts: ts, isOpen: isOpen})
		c.items[ts] = el
		if c.order.Len() > cacheCapacity {
			back := c.order.Back()
			if back != nil {
				c.order.Remove(back)
				delete(c.items, back.Value.(*lruEntry).ts)
			}
		}
	}
	return isOpen
}

// Registry hands out one cached Calendar per calendar code, built lazily.
type Registry struct {
	mu    sync.Mutex
	cache map[string]Calendar
}

// NewRegistry returns an empty calendar registry.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[string]Calendar)}
}

// For returns the cached Calendar for the given calendar code (e.g.
// "NASDAQ", "NYSE", "CME_Rate"), building it on first use.
func (r *Registry) For(calendarCode string) Calendar {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[calendarCode]; ok {
		return c
	}
	c := newLRUCalendar(scheduleFor(calendarCode))
	r.cache[calendarCode] = c
	return c
}
