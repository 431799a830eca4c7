package diagnostics

import (
	"sync"
	"time"
)

// A traitKey identifies one cached trait computation: the entity it was
// computed for and the window it was computed over.
type traitKey struct {
	id     EntityID
	window time.Duration
}

type traitEntry struct {
	version  uint64
	snapshot TraitSnapshot
}

// traitCache memoises trait snapshots across query bursts. Dashboards tend to
// ask for the same traits many times per second; recomputing four window
// passes for each request is wasted work when nothing has changed.
//
// An entry is served only while the ledger version it was computed against is
// still current and the entry is younger than the configured TTL. The TTL
// bound is what keeps freshness honest: a window query's result decays as
// time passes even when no reading arrives.
//
// traitCache is safe for concurrent use.
type traitCache struct {
	mu  sync.Mutex
	m   map[traitKey]traitEntry
	ttl time.Duration
}

func newTraitCache(ttl time.Duration) *traitCache {
	return &traitCache{
		m:   make(map[traitKey]traitEntry),
		ttl: ttl,
	}
}

// find returns the cached snapshot for the key if it was computed against the
// given ledger version and has not outlived the TTL at the given instant.
func (c *traitCache) find(key traitKey, version uint64, now time.Time) (TraitSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.m[key]
	if !ok || entry.version != version {
		return TraitSnapshot{}, false
	}
	if now.Sub(entry.snapshot.EvaluatedAt) >= c.ttl {
		// Expired entries are expunged rather than kept around: a stale
		// snapshot must never be served, and the next store overwrites
		// the slot anyway.
		delete(c.m, key)
		return TraitSnapshot{}, false
	}
	return entry.snapshot, true
}

// store records a freshly computed snapshot for the key.
func (c *traitCache) store(key traitKey, version uint64, snapshot TraitSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = traitEntry{version: version, snapshot: snapshot}
}

// invalidate expunges every cached snapshot of one entity, across all
// windows. Detaching an entity calls this so a re-registered id never sees
// its predecessor's traits.
func (c *traitCache) invalidate(id EntityID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.m {
		if key.id == id {
			delete(c.m, key)
		}
	}
}
