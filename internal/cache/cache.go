package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wxplume/srefproxy/internal/models"
	"github.com/wxplume/srefproxy/internal/observability"
)

// Store defines the interface for plume result caching backends.
// Get returns cached data if present and not expired, Put stores data with TTL.
type Store interface {
	Get(ctx context.Context, key string) (models.ProcessedResult, bool, error)
	Put(ctx context.Context, key string, value models.ProcessedResult, ttl time.Duration) error
}

// EntryInfo is a read-only view of one cache entry for the inventory endpoint.
type EntryInfo struct {
	Key          string    `json:"key"`
	InsertedAt   time.Time `json:"insertedAt"`
	TTLRemaining float64   `json:"ttlRemainingSeconds"`
}

// Inventory is implemented by stores that can report their size and enumerate
// entries. The memcached backend does not implement it.
type Inventory interface {
	Len() int
	Entries() []EntryInfo
}

// entry holds a processed result with its insertion and expiry timestamps.
// Entries are replaced wholesale, never partially updated.
type entry struct {
	Result     models.ProcessedResult `json:"result"`
	InsertedAt time.Time              `json:"insertedAt"`
	ExpiresAt  time.Time              `json:"expiresAt"`
}

// MemoryStore implements Store with an in-memory map. Expired entries are
// removed on access; inserts past the size bound evict the oldest tenth of
// entries by insertion time. All mutations are serialized by a mutex, so no
// reader can observe a torn entry. Optional durable snapshots are handled by
// an attached snapshotter.
type MemoryStore struct {
	mu         sync.Mutex
	data       map[string]entry
	maxEntries int
	snap       *snapshotter // nil when persistence disabled

	now func() time.Time // swapped in tests
}

// NewMemoryStore creates a MemoryStore bounded to maxEntries (reference 1000).
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryStore{
		data:       make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get retrieves the cached result for key if present and not expired.
// A present-but-expired entry is treated as absent and removed from the
// store as a side effect of the lookup.
func (s *MemoryStore) Get(ctx context.Context, key string) (models.ProcessedResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.ExpiresAt) {
		delete(s.data, key)
		s.markDirty()
		return nil, false, nil
	}
	return e.Result, true, nil
}

// Put inserts or replaces the entry for key, stamping insertion and expiry
// times. When the insert would breach the size bound, the oldest 10% of
// entries (by insertion time) are evicted first, so eviction cost is
// amortized rather than paid on every insert at capacity.
func (s *MemoryStore) Put(ctx context.Context, key string, value models.ProcessedResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && len(s.data) >= s.maxEntries {
		s.evictOldestLocked()
	}

	now := s.now()
	s.data[key] = entry{
		Result:     value,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.markDirty()
	return nil
}

// evictOldestLocked removes the oldest tenth of entries ranked by insertion
// time, ascending. Must be called with the mutex held.
func (s *MemoryStore) evictOldestLocked() {
	n := s.maxEntries / 10
	if n < 1 {
		n = 1
	}

	type aged struct {
		key        string
		insertedAt time.Time
	}
	all := make([]aged, 0, len(s.data))
	for k, e := range s.data {
		all = append(all, aged{key: k, insertedAt: e.InsertedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].insertedAt.Before(all[j].insertedAt) })

	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(s.data, a.key)
		observability.CacheEvictionsTotal.Inc()
	}
}

// Len returns the number of entries currently stored, including any that
// have expired but have not yet been touched by a read.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Entries returns a point-in-time inventory of unexpired entries with their
// remaining time-to-live. Expired entries encountered during the listing are
// lazily removed, matching the store's expiry-on-read rule.
func (s *MemoryStore) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]EntryInfo, 0, len(s.data))
	removed := false
	for k, e := range s.data {
		if now.After(e.ExpiresAt) {
			delete(s.data, k)
			removed = true
			continue
		}
		out = append(out, EntryInfo{
			Key:          k,
			InsertedAt:   e.InsertedAt,
			TTLRemaining: e.ExpiresAt.Sub(now).Seconds(),
		})
	}
	if removed {
		s.markDirty()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// markDirty schedules a debounced snapshot write. No-op when persistence is
// disabled. Must be called with the mutex held.
func (s *MemoryStore) markDirty() {
	if s.snap != nil {
		s.snap.schedule()
	}
}
