// Package cache implements the budgeted residency cache at the center of
// tilestream: a content-addressed store of resource payloads with explicit
// lifecycle states, deterministic LRU eviction and per-dataset version
// stamping.
//
// Determinism notes:
//   - Access recency is a logical clock bumped on Get/MarkResident, never
//     wall time, so identical operation sequences always produce identical
//     eviction decisions.
//   - Eviction order is (ascending LastAccess, ascending key); version-pin
//     invalidation walks entries in ascending key order.
//
// The cache is not internally synchronized. All mutation goes through the
// single-writer core; see the streamer package.
package cache

import (
	"slices"

	"github.com/tilecraft/tilestream/model"
)

// Config is the typed configuration surface of the cache.
type Config struct {
	// BudgetBytes is the hard ceiling on the byte total of Resident entries.
	BudgetBytes int64
}

// Entry is the cache's record of a single resource. Entries are owned by the
// cache; callers receive them by reference and must not mutate state fields.
type Entry struct {
	Key     model.ResourceKey
	Version model.Version
	State   State
	// Size is the budget-tracked byte size while Resident, else 0.
	Size int64
	// LastAccess is the logical-clock value of the last touch.
	LastAccess uint64
	// PinCount guards the entry against eviction while > 0.
	PinCount uint32

	payload []byte
}

// Payload borrows the resident payload. The returned slice is owned by the
// cache and becomes invalid once the entry leaves Resident.
func (e *Entry) Payload() []byte {
	return e.payload
}

// Cache is the residency cache. The zero value is not usable; use New.
type Cache struct {
	cfg     Config
	clock   uint64
	used    int64
	entries map[model.ResourceKey]*Entry
	pinned  map[model.DatasetID]model.Version
}

// New creates a cache with the given configuration.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:     cfg,
		entries: make(map[model.ResourceKey]*Entry),
		pinned:  make(map[model.DatasetID]model.Version),
	}
}

// BudgetBytes returns the configured resident-byte budget.
func (c *Cache) BudgetBytes() int64 { return c.cfg.BudgetBytes }

// UsedBytes returns the byte total of Resident entries.
func (c *Cache) UsedBytes() int64 { return c.used }

// Len returns the number of tracked entries, terminal ones included.
func (c *Cache) Len() int { return len(c.entries) }

// PinnedVersion returns the currently pinned version for a dataset, or the
// empty version if none was pinned.
func (c *Cache) PinnedVersion(dataset model.DatasetID) model.Version {
	return c.pinned[dataset]
}

// Request creates or revives the entry for key in state Requested, stamped
// with the dataset's currently pinned version. If a non-terminal entry
// already exists it is returned unchanged so concurrent callers attach to the
// same outcome.
func (c *Cache) Request(key model.ResourceKey) *Entry {
	c.clock++
	if e, ok := c.entries[key]; ok && !e.State.Terminal() {
		return e
	}
	e := &Entry{
		Key:        key,
		Version:    c.pinned[key.Dataset],
		State:      StateRequested,
		LastAccess: c.clock,
	}
	c.entries[key] = e
	return e
}

// Get returns the entry for key and bumps the logical access clock on hit.
func (c *Cache) Get(key model.ResourceKey) (*Entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.clock++
	e.LastAccess = c.clock
	return e, true
}

// Peek returns the entry for key without touching the access clock.
func (c *Cache) Peek(key model.ResourceKey) (*Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// MarkState advances the entry's residency state as reported by an external
// worker. Byte accounting is adjusted when the entry leaves Resident.
func (c *Cache) MarkState(key model.ResourceKey, to State) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrUnknownKey
	}
	if !canTransition(e.State, to) {
		return &ErrInvalidTransition{From: e.State, To: to}
	}
	if e.State == StateResident {
		c.release(e)
	}
	e.State = to
	return nil
}

// MarkResident admits a payload of the given size into the budget. If the
// resident total would exceed the budget, Resident entries are evicted in
// ascending (LastAccess, key) order until the payload fits; entries in
// non-terminal working states and pinned entries are never eviction
// candidates. On failure the entry keeps its previous state.
func (c *Cache) MarkResident(key model.ResourceKey, payload []byte, size int64) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrUnknownKey
	}
	if e.State == StateResident {
		return &ErrInvariant{Detail: "duplicate resident admission for " + key.String()}
	}
	if e.State.Terminal() {
		return &ErrInvalidTransition{From: e.State, To: StateResident}
	}
	if size > c.cfg.BudgetBytes {
		return &ErrCapacity{Requested: size, Budget: c.cfg.BudgetBytes, Freeable: c.freeable()}
	}
	if err := c.makeRoom(size, key); err != nil {
		return err
	}

	c.clock++
	e.Version = c.pinned[key.Dataset]
	e.State = StateResident
	e.Size = size
	e.payload = payload
	e.LastAccess = c.clock
	c.used += size
	if c.used > c.cfg.BudgetBytes {
		return &ErrInvariant{Detail: "resident bytes exceed budget after admission"}
	}
	return nil
}

// Evict transitions a Resident entry to Evicted and frees its budget share.
func (c *Cache) Evict(key model.ResourceKey) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrUnknownKey
	}
	if e.State != StateResident {
		return &ErrInvalidTransition{From: e.State, To: StateEvicted}
	}
	c.release(e)
	e.State = StateEvicted
	return nil
}

// Cancel transitions a non-terminal entry to Cancelled.
func (c *Cache) Cancel(key model.ResourceKey) error {
	return c.MarkState(key, StateCancelled)
}

// Pin increments the entry's pin count, shielding it from eviction.
func (c *Cache) Pin(key model.ResourceKey) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrUnknownKey
	}
	e.PinCount++
	return nil
}

// Unpin decrements the entry's pin count.
func (c *Cache) Unpin(key model.ResourceKey) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrUnknownKey
	}
	if e.PinCount > 0 {
		e.PinCount--
	}
	return nil
}

// PinDatasetVersion records version as the dataset's current version.
// Pinning the already-current version is a no-op. Otherwise every entry of
// the dataset whose stamped version differs is transitioned to Evicted in
// ascending key order, regardless of state or recency, and its budget share
// freed. Returns the evicted keys.
func (c *Cache) PinDatasetVersion(dataset model.DatasetID, version model.Version) []model.ResourceKey {
	if c.pinned[dataset] == version {
		return nil
	}
	c.pinned[dataset] = version

	var evicted []model.ResourceKey
	for _, key := range c.datasetKeys(dataset) {
		e := c.entries[key]
		if e.Version == version || e.State.Terminal() {
			continue
		}
		if e.State == StateResident {
			c.release(e)
		}
		e.State = StateEvicted
		evicted = append(evicted, key)
	}
	return evicted
}

// release frees the budget share of a Resident entry and drops its payload.
func (c *Cache) release(e *Entry) {
	c.used -= e.Size
	e.Size = 0
	e.payload = nil
	if c.used < 0 {
		// Corrupted accounting; surface loudly on the next admission.
		c.used = 0
	}
}

// makeRoom evicts LRU resident entries until size fits, or fails with a
// capacity error. The entry being admitted is never a candidate.
func (c *Cache) makeRoom(size int64, admitting model.ResourceKey) error {
	for c.used+size > c.cfg.BudgetBytes {
		victim, ok := c.victim(admitting)
		if !ok {
			return &ErrCapacity{Requested: size, Budget: c.cfg.BudgetBytes, Freeable: c.freeable()}
		}
		e := c.entries[victim]
		c.release(e)
		e.State = StateEvicted
	}
	return nil
}

// victim picks the least-recently-used evictable entry, ties broken by
// ascending key.
func (c *Cache) victim(exclude model.ResourceKey) (model.ResourceKey, bool) {
	var best model.ResourceKey
	var bestAccess uint64
	found := false
	for key, e := range c.entries {
		if e.State != StateResident || e.PinCount > 0 || key == exclude {
			continue
		}
		if !found || e.LastAccess < bestAccess ||
			(e.LastAccess == bestAccess && key.Compare(best) < 0) {
			best = key
			bestAccess = e.LastAccess
			found = true
		}
	}
	return best, found
}

func (c *Cache) freeable() int64 {
	var total int64
	for _, e := range c.entries {
		if e.State == StateResident && e.PinCount == 0 {
			total += e.Size
		}
	}
	return total
}

func (c *Cache) datasetKeys(dataset model.DatasetID) []model.ResourceKey {
	keys := make([]model.ResourceKey, 0, len(c.entries))
	for key := range c.entries {
		if key.Dataset == dataset {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, model.ResourceKey.Compare)
	return keys
}
