// Package cache implements the per-dataset raw chunk cache.
//
// The cache keeps decoded chunks in memory between region reads and writes.
// Entries live in a hash table with a fixed number of slots; when two chunks
// hash to the same slot the older one is evicted, which is why the slot count
// should be a prime well above the number of chunks that fit in the byte
// budget. Within the budget, eviction follows LRU order with a preference
// for chunks that have been fully read or written, weighted by W0.
package cache

import (
	"container/list"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/robert-malhotra/go-h5io/internal/primes"
)

const (
	// DefaultBytes is the default byte budget of one dataset's cache.
	DefaultBytes = 16 << 20

	// DefaultW0 is the default preemption weight.
	DefaultW0 = 0.75

	// slotsPerChunk is how many hash slots are provisioned for each chunk
	// that fits in the byte budget.
	slotsPerChunk = 100
)

var (
	// ErrTooLarge is returned by Put when a chunk exceeds the byte budget.
	// Callers must read and write such chunks directly.
	ErrTooLarge = errors.New("chunk larger than cache")

	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid chunk cache configuration")
)

// Config holds the tuning parameters of a chunk cache.
type Config struct {
	Bytes uint64  // byte budget
	Slots uint32  // hash table size, ideally prime
	W0    float64 // 0 = plain LRU, 1 = always prefer fully used chunks
}

// DefaultConfig returns the default 16 MiB configuration.
func DefaultConfig() Config {
	return Config{Bytes: DefaultBytes, Slots: 12421, W0: DefaultW0}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Slots == 0 {
		return fmt.Errorf("%w: zero slots", ErrInvalidConfig)
	}
	if c.W0 < 0 || c.W0 > 1 || math.IsNaN(c.W0) {
		return fmt.Errorf("%w: w0 %v not in [0, 1]", ErrInvalidConfig, c.W0)
	}
	return nil
}

// Slots returns a prime slot count for a cache of cacheBytes holding chunks
// of chunkBytes each: the next tabulated prime at least 100 times the number
// of chunks that fit. When the prime table is exhausted the largest
// tabulated prime is used.
func Slots(cacheBytes, chunkBytes uint64) uint32 {
	fit := uint64(1)
	if chunkBytes > 0 && cacheBytes/chunkBytes > 1 {
		fit = cacheBytes / chunkBytes
	}
	want := fit * slotsPerChunk
	if want > math.MaxUint32 {
		return primes.Largest()
	}
	if p := primes.NextPrimeAtLeast(uint32(want)); p != 0 {
		return p
	}
	return primes.Largest()
}

// For returns the configuration for chunks of chunkBytes under a byte budget.
func For(cacheBytes, chunkBytes uint64, w0 float64) Config {
	return Config{Bytes: cacheBytes, Slots: Slots(cacheBytes, chunkBytes), W0: w0}
}

// WriteBackFunc persists a dirty chunk. It is called on eviction and Flush.
type WriteBackFunc func(index uint64, data []byte) error

// Stats counts cache activity.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Collisions uint64
	WriteBacks uint64
}

type entry struct {
	index   uint64
	data    []byte
	slot    uint32
	dirty   bool
	full    bool
	element *list.Element
}

// Chunk caches decoded chunks of a single dataset.
type Chunk struct {
	mu        sync.Mutex
	cfg       Config
	slots     []*entry
	lru       *list.List // front = most recently used
	used      uint64
	writeBack WriteBackFunc
	stats     Stats
}

// New creates a chunk cache. writeBack may be nil for read-only datasets.
func New(cfg Config, writeBack WriteBackFunc) (*Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunk{
		cfg:       cfg,
		slots:     make([]*entry, cfg.Slots),
		lru:       list.New(),
		writeBack: writeBack,
	}, nil
}

// Config returns the tuning parameters.
func (c *Chunk) Config() Config { return c.cfg }

func (c *Chunk) slotOf(index uint64) uint32 {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], index)
	return uint32(xxhash.Sum64(key[:]) % uint64(c.cfg.Slots))
}

// Get returns the cached chunk. The returned slice is owned by the cache and
// may be modified in place, followed by MarkDirty.
func (c *Chunk) Get(index uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.slots[c.slotOf(index)]
	if e == nil || e.index != index {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	c.lru.MoveToFront(e.element)
	return e.data, true
}

// Put inserts a chunk, evicting whatever it displaces. The cache takes
// ownership of data.
func (c *Chunk) Put(index uint64, data []byte, dirty bool) error {
	size := uint64(len(data))
	if size > c.cfg.Bytes {
		return ErrTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	slot := c.slotOf(index)
	if old := c.slots[slot]; old != nil {
		if old.index == index {
			c.used += size - uint64(len(old.data))
			old.data = data
			old.dirty = old.dirty || dirty
			c.lru.MoveToFront(old.element)
			return c.shrinkLocked(old)
		}
		c.stats.Collisions++
		if err := c.evictLocked(old); err != nil {
			return err
		}
	}

	e := &entry{index: index, data: data, slot: slot, dirty: dirty}
	e.element = c.lru.PushFront(e)
	c.slots[slot] = e
	c.used += size
	return c.shrinkLocked(e)
}

// MarkDirty flags a cached chunk as modified. full records that the last
// access covered the whole chunk, which makes it a preferred eviction victim.
func (c *Chunk) MarkDirty(index uint64, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.slots[c.slotOf(index)]; e != nil && e.index == index {
		e.dirty = true
		e.full = e.full || full
	}
}

// MarkFull records that a cached chunk was read in its entirety.
func (c *Chunk) MarkFull(index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.slots[c.slotOf(index)]; e != nil && e.index == index {
		e.full = true
	}
}

// shrinkLocked evicts until the budget holds, never evicting keep.
func (c *Chunk) shrinkLocked(keep *entry) error {
	for c.used > c.cfg.Bytes {
		victim := c.victimLocked(keep)
		if victim == nil {
			return nil
		}
		if err := c.evictLocked(victim); err != nil {
			return err
		}
	}
	return nil
}

// victimLocked scans the oldest ceil(W0*n) entries for a fully used chunk
// and falls back to the least recently used one.
func (c *Chunk) victimLocked(keep *entry) *entry {
	window := int(math.Ceil(c.cfg.W0 * float64(c.lru.Len())))
	var oldest *entry
	for el, i := c.lru.Back(), 0; el != nil; el, i = el.Prev(), i+1 {
		e := el.Value.(*entry)
		if e == keep {
			continue
		}
		if oldest == nil {
			oldest = e
		}
		if i >= window {
			break
		}
		if e.full {
			return e
		}
	}
	return oldest
}

func (c *Chunk) evictLocked(e *entry) error {
	if e.dirty && c.writeBack != nil {
		if err := c.writeBack(e.index, e.data); err != nil {
			return fmt.Errorf("writing back chunk %d: %w", e.index, err)
		}
		c.stats.WriteBacks++
	}
	c.lru.Remove(e.element)
	c.slots[e.slot] = nil
	c.used -= uint64(len(e.data))
	c.stats.Evictions++
	return nil
}

// Flush writes back every dirty chunk and keeps them cached as clean.
func (c *Chunk) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if !e.dirty || c.writeBack == nil {
			continue
		}
		if err := c.writeBack(e.index, e.data); err != nil {
			errs = append(errs, fmt.Errorf("writing back chunk %d: %w", e.index, err))
			continue
		}
		e.dirty = false
		c.stats.WriteBacks++
	}
	return errors.Join(errs...)
}

// Purge flushes and then drops every entry. Nothing is dropped if a
// write-back fails.
func (c *Chunk) Purge() error {
	if err := c.Flush(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make([]*entry, c.cfg.Slots)
	c.lru.Init()
	c.used = 0
	return nil
}

// Len returns the number of cached chunks.
func (c *Chunk) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Used returns the bytes held by cached chunks.
func (c *Chunk) Used() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Stats returns a snapshot of the counters.
func (c *Chunk) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
