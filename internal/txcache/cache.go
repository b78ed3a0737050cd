// Package txcache holds the bounded, insertion-ordered cache of
// in-flight mempool transactions described in spec.md §4.2: O(1)
// insert/get/remove keyed by txid, with oldest-first eviction once a
// capacity bound is reached so a single tick's mempool backlog can never
// grow memory without limit.
package txcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

// EvictCallback is invoked, outside the cache's lock, whenever an entry
// is evicted — either by capacity pressure or an explicit Remove.
type EvictCallback func(txid string, tx models.ParsedTransaction)

type entry struct {
	txid string
	tx   models.ParsedTransaction
}

// Cache is a capacity-bounded map of txid -> ParsedTransaction backed by
// a doubly linked list for O(1) least-recently-inserted eviction.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
	onEvict  EvictCallback
}

// New constructs a Cache bounded at capacity entries. onEvict may be nil.
func New(capacity int, onEvict EvictCallback) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element, capacity),
		onEvict:  onEvict,
	}
}

// Put inserts or overwrites the entry for txid. Inserting an existing
// txid updates its value in place without changing its eviction order
// and keeps the entry's original FirstSeenAt — the cache orders by
// first-seen time, not last-touched, matching spec.md §4.2's
// "insertion-ordered" requirement.
func (c *Cache) Put(txid string, tx models.ParsedTransaction) {
	c.mu.Lock()
	var evicted []entry
	if el, ok := c.index[txid]; ok {
		existing := el.Value.(*entry)
		tx.FirstSeenAt = existing.tx.FirstSeenAt
		existing.tx = tx
	} else {
		el := c.ll.PushBack(&entry{txid: txid, tx: tx})
		c.index[txid] = el
		for c.ll.Len() > c.capacity {
			oldest := c.ll.Front()
			c.ll.Remove(oldest)
			ev := oldest.Value.(*entry)
			delete(c.index, ev.txid)
			evicted = append(evicted, *ev)
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, ev := range evicted {
			c.onEvict(ev.txid, ev.tx)
		}
	}
}

// Get returns the cached transaction for txid, if present.
func (c *Cache) Get(txid string) (models.ParsedTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[txid]
	if !ok {
		return models.ParsedTransaction{}, false
	}
	return el.Value.(*entry).tx, true
}

// Contains reports whether txid is present, without touching eviction
// order or copying the cached transaction.
func (c *Cache) Contains(txid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[txid]
	return ok
}

// SnapshotOldestTimestamp returns the FirstSeenAt of the
// longest-resident entry, and false if the cache is empty. Used by the
// memory watchdog to report how far behind the cache's working set is
// falling under eviction pressure.
func (c *Cache) SnapshotOldestTimestamp() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	front := c.ll.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(*entry).tx.FirstSeenAt, true
}

// Remove deletes txid from the cache, invoking onEvict if it was
// present. Used by the orchestrator when a transaction confirms or is
// otherwise resolved, so it no longer counts against capacity.
func (c *Cache) Remove(txid string) {
	c.mu.Lock()
	el, ok := c.index[txid]
	var ev entry
	if ok {
		ev = *el.Value.(*entry)
		c.ll.Remove(el)
		delete(c.index, txid)
	}
	c.mu.Unlock()

	if ok && c.onEvict != nil {
		c.onEvict(ev.txid, ev.tx)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Snapshot returns a copy of all cached transactions, oldest-inserted
// first. The orchestrator's memory watchdog reads it to find the oldest
// entries to drop; callers must not mutate the returned slice's
// ParsedTransaction values in ways that would alias cache state (they
// are copies already, since ParsedTransaction is a value type).
func (c *Cache) Snapshot() []models.ParsedTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ParsedTransaction, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).tx)
	}
	return out
}
