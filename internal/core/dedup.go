package core

import (
	"container/list"
	"context"
	"sync"

	"PerpIndex/internal/event"
)

// TradeChecker is the durable tier of duplicate detection: the primary
// store's trade table keyed by event identity.
type TradeChecker interface {
	HasTrade(ctx context.Context, id event.ID) (bool, error)
}

// Deduper implements two-tier duplicate detection: an in-memory LRU in
// front of a store lookup. A store lookup error is treated conservatively
// as "not a duplicate" — the upsert semantics make a rare double
// application harmless, while failing closed would block the feed.
type Deduper struct {
	mu      sync.Mutex
	lru     *identityLRU
	checker TradeChecker
}

func NewDeduper(capacity int, checker TradeChecker) *Deduper {
	return &Deduper{
		lru:     newIdentityLRU(capacity),
		checker: checker,
	}
}

// Seen reports whether the event identity has already been applied, and
// which tier caught it ("lru" or "store").
func (d *Deduper) Seen(ctx context.Context, id event.ID) (bool, string) {
	d.mu.Lock()
	hit := d.lru.contains(id)
	d.mu.Unlock()
	if hit {
		return true, "lru"
	}

	if d.checker != nil {
		dup, err := d.checker.HasTrade(ctx, id)
		if err != nil {
			return false, ""
		}
		if dup {
			d.mu.Lock()
			d.lru.add(id)
			d.mu.Unlock()
			return true, "store"
		}
	}
	return false, ""
}

// Mark records the identity as applied.
func (d *Deduper) Mark(id event.ID) {
	d.mu.Lock()
	d.lru.add(id)
	d.mu.Unlock()
}

// Reset drops the in-memory tier. Called when a stream discontinuity
// flushes the store: pre-reset identities will legitimately reappear.
func (d *Deduper) Reset() {
	d.mu.Lock()
	d.lru = newIdentityLRU(d.lru.capacity)
	d.mu.Unlock()
}

// Size returns the current LRU occupancy.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.list.Len()
}

// --- LRU ---

type identityLRU struct {
	capacity int
	cache    map[event.ID]*list.Element
	list     *list.List
}

func newIdentityLRU(capacity int) *identityLRU {
	return &identityLRU{
		capacity: capacity,
		cache:    make(map[event.ID]*list.Element, capacity),
		list:     list.New(),
	}
}

func (l *identityLRU) contains(id event.ID) bool {
	elem, ok := l.cache[id]
	if ok {
		l.list.MoveToFront(elem)
	}
	return ok
}

func (l *identityLRU) add(id event.ID) {
	if elem, ok := l.cache[id]; ok {
		l.list.MoveToFront(elem)
		return
	}
	l.cache[id] = l.list.PushFront(id)

	if l.list.Len() > l.capacity {
		oldest := l.list.Back()
		if oldest != nil {
			l.list.Remove(oldest)
			delete(l.cache, oldest.Value.(event.ID))
		}
	}
}
