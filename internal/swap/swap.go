// Package swap implements the swap table (spec.md §4.3): a bitmap of
// PAGE_SIZE-sized slots on the swap block device plus a (owner, upage) ->
// slot mapping. Grounded on
// original_source/src/vm/swaptable.c (swap_available, swap_init,
// swap_write, swap_read).
package swap

import (
	"context"
	"fmt"
	"sync"

	"github.com/tuannm99/kernelcore/internal/bitset"
	"github.com/tuannm99/kernelcore/internal/blockdev"
	"github.com/tuannm99/kernelcore/internal/hwpt"
	"github.com/tuannm99/kernelcore/internal/kerrors"
	"github.com/tuannm99/kernelcore/internal/spt"
)

// FrameAllocator is the slice of the frame table (internal/frame) that
// swap-in needs: acquire a fresh frame, fill its backing memory, and
// install the mapping. Declared here (rather than importing internal/frame)
// to avoid a frame<->swap import cycle, since frame.Table in turn depends
// on a SwapWriter it declares for eviction.
type FrameAllocator interface {
	Acquire(ctx context.Context, owner uint64, n int) ([]hwpt.KAddr, error)
	WritePage(kaddr hwpt.KAddr, data []byte) error
	Map(ctx context.Context, upage uintptr, kaddr hwpt.KAddr, owner uint64, writable bool) error
}

type mapKey struct {
	owner uint64
	upage uintptr
}

// Table is the swap table: a bitmap allocator plus a (owner,upage)->slot
// index.
type Table struct {
	mu             sync.Mutex
	bitmap         *bitset.Bitmap
	mappings       map[mapKey]int
	dev            blockdev.Device // nil if no swap device is configured
	pageSize       int
	sectorSize     int
	sectorsPerSlot int
}

// NewTable constructs a swap table over dev. dev may be nil, in which case
// Available() is permanently false (spec.md §4.3's "If no swap device is
// configured... swap_available = false").
func NewTable(dev blockdev.Device, pageSize, sectorSize int) *Table {
	sectorsPerSlot := pageSize / sectorSize
	slots := 0
	if dev != nil && sectorsPerSlot > 0 {
		slots = dev.Size() / sectorsPerSlot
	}
	return &Table{
		bitmap:         bitset.New(slots),
		mappings:       make(map[mapKey]int),
		dev:            dev,
		pageSize:       pageSize,
		sectorSize:     sectorSize,
		sectorsPerSlot: sectorsPerSlot,
	}
}

// Available reports whether a swap device with at least one slot is
// configured. It does not report whether a free slot remains; Write fails
// with ErrNoSwap when every slot is in use.
func (t *Table) Available() bool {
	return t.dev != nil && t.bitmap.Len() > 0
}

// Write allocates a fresh slot (bitmap scan-and-flip), writes page's
// SECTORS_PER_SLOT sectors to it, and records the (owner,upage) mapping
// (spec.md §4.3 write(upage)).
func (t *Table) Write(ctx context.Context, owner uint64, upage uintptr, page []byte) error {
	if len(page) != t.pageSize {
		return kerrors.New("swap.Write", kerrors.ErrPolicyViolation, fmt.Errorf("page len %d != page size %d", len(page), t.pageSize))
	}
	if !t.Available() {
		return kerrors.New("swap.Write", kerrors.ErrNoSwap, fmt.Errorf("no swap device configured"))
	}

	idx, ok := t.bitmap.ScanAndFlip(0, true)
	if !ok {
		return kerrors.New("swap.Write", kerrors.ErrNoSwap, fmt.Errorf("swap device full"))
	}

	base := idx * t.sectorsPerSlot
	for s := 0; s < t.sectorsPerSlot; s++ {
		off := s * t.sectorSize
		if err := t.dev.WriteSector(ctx, base+s, page[off:off+t.sectorSize]); err != nil {
			t.bitmap.Set(idx, false)
			return kerrors.New("swap.Write", kerrors.ErrIO, err)
		}
	}

	key := mapKey{owner: owner, upage: upage}
	t.mu.Lock()
	t.mappings[key] = idx
	t.mu.Unlock()
	return nil
}

// Read locates (owner,upage)'s mapping, acquires a fresh frame, reads the
// slot into it, installs the mapping using sptTable's writable flag, and
// frees the slot and mapping (spec.md §4.3 read(upage)).
func (t *Table) Read(ctx context.Context, owner uint64, upage uintptr, frames FrameAllocator, sptTable *spt.Table) ([]byte, error) {
	key := mapKey{owner: owner, upage: upage}
	t.mu.Lock()
	idx, ok := t.mappings[key]
	t.mu.Unlock()
	if !ok {
		return nil, kerrors.New("swap.Read", kerrors.ErrPolicyViolation, fmt.Errorf("no swap mapping for owner=%d upage=%#x", owner, upage))
	}

	kaddrs, err := frames.Acquire(ctx, owner, 1)
	if err != nil {
		return nil, kerrors.New("swap.Read", kerrors.ErrOutOfMemory, err)
	}
	kaddr := kaddrs[0]

	buf := make([]byte, t.pageSize)
	base := idx * t.sectorsPerSlot
	for s := 0; s < t.sectorsPerSlot; s++ {
		off := s * t.sectorSize
		if err := t.dev.ReadSector(ctx, base+s, buf[off:off+t.sectorSize]); err != nil {
			return nil, kerrors.New("swap.Read", kerrors.ErrIO, err)
		}
	}

	if err := frames.WritePage(kaddr, buf); err != nil {
		return nil, kerrors.New("swap.Read", kerrors.ErrIO, err)
	}

	writable := true
	if e, ok := sptTable.Get(upage); ok {
		writable = e.Writable
	}
	if err := frames.Map(ctx, upage, kaddr, owner, writable); err != nil {
		return nil, kerrors.New("swap.Read", kerrors.ErrPolicyViolation, err)
	}

	t.mu.Lock()
	delete(t.mappings, key)
	t.mu.Unlock()
	t.bitmap.Set(idx, false)

	return buf, nil
}

// SlotCount reports the number of currently-allocated swap slots, for
// diagnostics and tests.
func (t *Table) SlotCount() int {
	return t.bitmap.Count()
}
