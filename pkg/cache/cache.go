package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	shardCount  = 64
	stripeCount = 256
)

// Entry is a stored value with its insertion time and optional TTL.
// A zero TTL means the entry never expires.
type Entry struct {
	Value      any
	InsertedAt time.Time
	TTL        time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.InsertedAt) > e.TTL
}

// Cache is a sharded in-memory TTL key/value store. Storage shards are
// guarded by short-lived mutexes; GetAndUpdate additionally serialises
// writers per key via striped update locks, so the update closure may freely
// read and write *other* keys without deadlocking. TTL checks use the
// monotonic clock carried by time.Time.
type Cache struct {
	shards  [shardCount]shard
	stripes [stripeCount]sync.Mutex
	stats   counters
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

type counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	writes      atomic.Int64
	deletes     atomic.Int64
	expirations atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters plus the live size.
type StatsSnapshot struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Writes      int64 `json:"writes"`
	Deletes     int64 `json:"deletes"`
	Expirations int64 `json:"expirations"`
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]*Entry)
	}
	return c
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

func (c *Cache) shardFor(key string) *shard {
	return &c.shards[hashKey(key)%shardCount]
}

func (c *Cache) stripeFor(key string) *sync.Mutex {
	return &c.stripes[hashKey(key)%stripeCount]
}

// Get returns the value for key, or ok=false on a miss. Expired entries
// behave as absent and are evicted lazily.
func (c *Cache) Get(key string) (any, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		c.stats.misses.Add(1)
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		c.stats.expirations.Add(1)
		c.stats.misses.Add(1)
		return nil, false
	}
	c.stats.hits.Add(1)
	return e.Value, true
}

// Put stores value under key with no expiry.
func (c *Cache) Put(key string, value any) {
	c.Set(key, value, 0)
}

// Set stores value under key with an explicit TTL. A zero TTL never expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &Entry{Value: value, InsertedAt: time.Now(), TTL: ttl}
	c.stats.writes.Add(1)
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		c.stats.deletes.Add(1)
	}
}

// UpdateResult controls what GetAndUpdate writes back.
type UpdateResult struct {
	// Value is the new value for the key when Store is true.
	Value any
	// TTL applies to the stored value; zero keeps the entry forever.
	TTL time.Duration
	// Store writes Value back; when false the entry is left untouched.
	Store bool
	// Remove deletes the key; wins over Store.
	Remove bool
}

// GetAndUpdate atomically applies fn to the current value of key. fn receives
// the current value (nil, false when absent or expired) and returns the new
// state plus an arbitrary result handed back to the caller. Concurrent
// GetAndUpdate calls for the same key are fully serialised. fn may Get, Put,
// Set and Delete other keys, but must not call GetAndUpdate itself.
func (c *Cache) GetAndUpdate(key string, fn func(current any, present bool) (UpdateResult, any)) any {
	stripe := c.stripeFor(key)
	stripe.Lock()
	defer stripe.Unlock()

	current, present := c.peek(key)
	update, result := fn(current, present)
	switch {
	case update.Remove:
		c.Delete(key)
	case update.Store:
		c.Set(key, update.Value, update.TTL)
	}
	return result
}

// peek reads the current value without touching hit/miss counters.
func (c *Cache) peek(key string) (any, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		c.stats.expirations.Add(1)
		return nil, false
	}
	return e.Value, true
}

// Prune removes all expired entries and returns how many were evicted.
func (c *Cache) Prune() int {
	now := time.Now()
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.stats.expirations.Add(int64(removed))
	}
	return removed
}

// Len returns the number of stored entries, counting expired-but-unevicted
// ones.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() StatsSnapshot {
	return StatsSnapshot{
		Entries:     c.Len(),
		Hits:        c.stats.hits.Load(),
		Misses:      c.stats.misses.Load(),
		Writes:      c.stats.writes.Load(),
		Deletes:     c.stats.deletes.Load(),
		Expirations: c.stats.expirations.Load(),
	}
}
