package connmgr

import (
	"sync"
	"time"

	"github.com/ordishs/go-utils/expiringmap"
)

// MaxDiscouraged bounds the in-memory discouragement set (spec.md §4.5).
const MaxDiscouraged = 50000

// discourageTTL is generous on purpose: discouragement is meant to survive
// for the life of a misbehaving session window, not just a few seconds; the
// bound that actually matters operationally is MaxDiscouraged's LRU cap.
const discourageTTL = 24 * time.Hour

// DiscourageStore is the bounded, non-persisted soft-ban set, grounded on
// the orphan pool's expiringmap.ExpiringMap usage in
// services/legacy/netsync/manager.go (orphanTxs field), repurposed here to
// track addresses instead of orphan headers.
type DiscourageStore struct {
	mu sync.Mutex
	m  *expiringmap.ExpiringMap[string, time.Time]
}

// NewDiscourageStore returns an empty store.
func NewDiscourageStore() *DiscourageStore {
	return &DiscourageStore{m: expiringmap.New[string, time.Time](discourageTTL)}
}

// Discourage marks address as discouraged, evicting the oldest entry first
// if the store is already at MaxDiscouraged (LRU on oldest-insertion, per
// spec.md §4.5).
func (d *DiscourageStore) Discourage(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.m.Get(address); exists {
		return
	}

	if d.m.Len() >= MaxDiscouraged {
		d.evictOldestLocked()
	}

	d.m.Set(address, time.Now())
}

// evictOldestLocked removes the single oldest-inserted entry. Caller holds
// d.mu.
func (d *DiscourageStore) evictOldestLocked() {
	var (
		oldestAddr string
		oldestTime time.Time
		found      bool
	)

	for addr, insertedAt := range d.m.Items() {
		if !found || insertedAt.Before(oldestTime) {
			oldestAddr = addr
			oldestTime = insertedAt
			found = true
		}
	}

	if found {
		d.m.Delete(oldestAddr)
	}
}

// IsDiscouraged reports whether address is currently discouraged.
func (d *DiscourageStore) IsDiscouraged(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.m.Get(address)

	return ok
}

// Remove clears a discouragement, used when an address is whitelisted.
func (d *DiscourageStore) Remove(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.m.Delete(address)
}

// Len reports the current discouraged-set size.
func (d *DiscourageStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.m.Len()
}
