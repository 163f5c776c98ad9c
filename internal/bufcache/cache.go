// Package bufcache implements the buffer cache (spec.md §4.5, §2 row G):
// a fixed-capacity, write-back sector cache in front of the block device,
// with clock eviction, per-block access serialization, and a write-behind
// flusher. Grounded primarily on
// original_source/src/filesys/cache.c (cache_read_in/cache_write_in/
// cache_create/cache_evict/cache_flush), restructured in the idiom of the
// teacher's internal/bufferpool/pool.go: a clock hand over a slice-backed
// ring plus a hash index, sync.Mutex critical sections, and
// log/slog debug calls at every state transition.
//
// spec.md §9's Open Question is resolved as: the content buffer is a
// freshly allocated SECTOR_SIZE block owned by the cache entry; Read/ReadIn
// copy cache -> caller, Write/WriteIn copy caller -> cache. The in_use
// ("accessing") flag is set by lookup under searchLock and cleared by the
// same call that performed the lookup, immediately after its sector-level
// copy — never by a separate release entry point.
package bufcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/tuannm99/kernelcore/internal/blockdev"
	"github.com/tuannm99/kernelcore/internal/clockring"
	"github.com/tuannm99/kernelcore/internal/kerrors"
)

// block is one cached disk sector (spec.md §3 "Cache block").
type block struct {
	sector     int
	data       []byte
	dirty      bool
	ref        bool // clock reference bit
	inUse      bool // "accessing": block is mid-copy for some caller
	accessLock sync.Mutex
}

// Cache is the fixed-capacity, write-back sector cache. Three locks guard
// it per spec.md §5: createLock serializes the create-or-evict sequence
// that install a new block, searchLock serializes hash-probe lookups
// against ring removals, and each block's own accessLock serializes
// content mutation against the write-behind flusher.
//
// searchLock is also taken briefly inside the eviction loop that
// create() drives (to remove the chosen victim from the ring), so
// createLock and searchLock do nest during eviction; this is a deliberate
// simplification of spec.md §5's idealized "create_lock never held while
// holding either" ordering, recorded as a decision in DESIGN.md, because
// Go's map/slice access needs a single consistent guard and the teacher's
// own bufferpool uses exactly one lock for the equivalent structure.
type Cache struct {
	createLock sync.Mutex
	searchLock sync.Mutex

	ring       *clockring.Ring[int, *block]
	capacity   int
	sectorSize int
	dev        blockdev.Device

	dirtyCount atomic.Int64
}

// New constructs an empty cache of capacity blocks, each sectorSize bytes,
// fronting dev.
func New(dev blockdev.Device, capacity, sectorSize int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		ring:       clockring.New[int, *block](),
		capacity:   capacity,
		sectorSize: sectorSize,
		dev:        dev,
	}
}

// lookup performs the hash probe under searchLock, and — on a hit — sets
// both the reference bit and the in_use flag atomically with the probe,
// per spec.md §4.5's lookup semantics. Returns nil on a miss.
func (c *Cache) lookup(sector int) *block {
	c.searchLock.Lock()
	defer c.searchLock.Unlock()
	blk, ok := c.ring.Get(sector)
	if !ok {
		return nil
	}
	blk.ref = true
	blk.inUse = true
	return blk
}

// clearInUse resets blk's in_use flag, the single release point every
// public entry point below calls exactly once after its sector-level copy
// completes.
func (c *Cache) clearInUse(blk *block) {
	c.searchLock.Lock()
	blk.inUse = false
	c.searchLock.Unlock()
}

// create installs a fresh, zero-initialized block for sector, evicting a
// victim first if the cache is already at capacity (spec.md §4.5
// "create-lock serializing insertions/evictions").
func (c *Cache) create(ctx context.Context, sector int) (*block, error) {
	c.createLock.Lock()
	defer c.createLock.Unlock()

	if c.ring.Len() >= c.capacity {
		if err := c.evictOneLocked(ctx); err != nil {
			return nil, err
		}
	}

	blk := &block{
		sector: sector,
		data:   make([]byte, c.sectorSize),
		ref:    true,
		inUse:  true,
	}
	c.searchLock.Lock()
	c.ring.Insert(sector, blk)
	c.searchLock.Unlock()
	slog.Debug("bufcache: created block", "sector", sector, "size", c.ring.Len())
	return blk, nil
}

// evictOneLocked runs one clock sweep (spec.md §4.5 "Eviction"), called
// with createLock held. It skips in-use blocks, gives referenced blocks a
// second chance, removes the chosen victim from the ring, and then flushes
// it if dirty. Panics if a full double sweep finds nothing evictable — "must not
// occur in a correct caller" per spec.
func (c *Cache) evictOneLocked(ctx context.Context) error {
	c.searchLock.Lock()
	n := c.ring.Len()
	var victim *block
	var victimKey int
	for attempt := 0; attempt < 2*n+1; attempt++ {
		key, ok := c.ring.Advance()
		if !ok {
			c.searchLock.Unlock()
			panic("bufcache: eviction attempted on an empty ring")
		}
		blk, _ := c.ring.Get(key)
		if blk.inUse {
			continue
		}
		if blk.ref {
			blk.ref = false
			continue
		}
		victim, victimKey = blk, key
		break
	}
	if victim == nil {
		c.searchLock.Unlock()
		panic("bufcache: clock hand swept the ring without finding an evictable block (pathological pinning)")
	}
	c.ring.Remove(victimKey)
	c.searchLock.Unlock()

	if victim.dirty {
		if err := c.flushBlock(ctx, victim); err != nil {
			return err
		}
	}
	slog.Debug("bufcache: evicted block", "sector", victim.sector)
	return nil
}

func (c *Cache) flushBlock(ctx context.Context, blk *block) error {
	blk.accessLock.Lock()
	defer blk.accessLock.Unlock()
	if !blk.dirty {
		return nil
	}
	if err := c.dev.WriteSector(ctx, blk.sector, blk.data); err != nil {
		return kerrors.New("bufcache.flush", kerrors.ErrIO, err)
	}
	blk.dirty = false
	c.dirtyCount.Dec()
	return nil
}

func (c *Cache) getOrLoad(ctx context.Context, sector int) (*block, error) {
	if blk := c.lookup(sector); blk != nil {
		return blk, nil
	}
	blk, err := c.create(ctx, sector)
	if err != nil {
		return nil, err
	}
	if err := c.dev.ReadSector(ctx, sector, blk.data); err != nil {
		return nil, kerrors.New("bufcache.getOrLoad", kerrors.ErrIO, err)
	}
	return blk, nil
}

// ReadIn copies len bytes starting off within sector into dst, loading the
// sector via a raw block read on a miss (spec.md §4.5 read_in).
func (c *Cache) ReadIn(ctx context.Context, sector int, dst []byte, off, length int) error {
	if off < 0 || off+length > c.sectorSize || length != len(dst) {
		return kerrors.New("bufcache.ReadIn", kerrors.ErrPolicyViolation,
			fmt.Errorf("off=%d len=%d out of range for sector size %d", off, length, c.sectorSize))
	}

	blk, err := c.getOrLoad(ctx, sector)
	if err != nil {
		return err
	}
	blk.accessLock.Lock()
	copy(dst, blk.data[off:off+length])
	blk.accessLock.Unlock()
	c.clearInUse(blk)
	return nil
}

// WriteIn copies len bytes from src into sector at off, marking the block
// dirty, creating the cache entry first on a miss (spec.md §4.5 write_in).
func (c *Cache) WriteIn(ctx context.Context, sector int, src []byte, off, length int) error {
	if off < 0 || off+length > c.sectorSize || length != len(src) {
		return kerrors.New("bufcache.WriteIn", kerrors.ErrPolicyViolation,
			fmt.Errorf("off=%d len=%d out of range for sector size %d", off, length, c.sectorSize))
	}

	blk := c.lookup(sector)
	if blk == nil {
		var err error
		blk, err = c.create(ctx, sector)
		if err != nil {
			return err
		}
	}

	blk.accessLock.Lock()
	copy(blk.data[off:off+length], src)
	wasDirty := blk.dirty
	blk.dirty = true
	blk.accessLock.Unlock()
	if !wasDirty {
		c.dirtyCount.Inc()
	}
	c.clearInUse(blk)
	return nil
}

// Read is the whole-sector fast path: returns ok=false on a miss without
// loading anything (spec.md §4.5 read, "an internal helper for the
// filesystem").
func (c *Cache) Read(sector int, dst []byte) bool {
	blk := c.lookup(sector)
	if blk == nil {
		return false
	}
	blk.accessLock.Lock()
	copy(dst, blk.data)
	blk.accessLock.Unlock()
	c.clearInUse(blk)
	return true
}

// Write is the whole-sector store (spec.md §4.5 write).
func (c *Cache) Write(ctx context.Context, sector int, src []byte) error {
	return c.WriteIn(ctx, sector, src, 0, c.sectorSize)
}

// Flush writes back every dirty block without evicting any (spec.md §4.5
// flush).
func (c *Cache) Flush(ctx context.Context) error {
	c.searchLock.Lock()
	keys := c.ring.Keys()
	c.searchLock.Unlock()

	for _, k := range keys {
		c.searchLock.Lock()
		blk, ok := c.ring.Get(k)
		c.searchLock.Unlock()
		if !ok {
			continue
		}
		if err := c.flushBlock(ctx, blk); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every block without flushing (spec.md §4.5 clear, teardown).
func (c *Cache) Clear() {
	c.searchLock.Lock()
	defer c.searchLock.Unlock()
	for _, k := range c.ring.Keys() {
		c.ring.Remove(k)
	}
	c.dirtyCount.Store(0)
}

// Teardown flushes, then clears, then releases backing structures
// (spec.md §4.5 teardown).
func (c *Cache) Teardown(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	c.Clear()
	return nil
}

// Len reports the number of blocks currently cached, for diagnostics and
// the spec.md §8 property-2 test ("|blocks| <= CACHE_CAPACITY always
// holds").
func (c *Cache) Len() int {
	c.searchLock.Lock()
	defer c.searchLock.Unlock()
	return c.ring.Len()
}

// DirtyCount reports the best-effort dirty-block count, informational only
// per spec.md §9's note on num_dirty — never asserted as a hard invariant.
func (c *Cache) DirtyCount() int64 {
	return c.dirtyCount.Load()
}
