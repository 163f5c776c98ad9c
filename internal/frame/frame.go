// Package frame implements the frame table (spec.md §3 "Frame"/"Frame
// mapping", §4.1): the registry of physical user-page frames and the
// clock-hand eviction policy that serves the global page-replacement
// decision. Restructured from the teacher's internal/bufferpool clock
// buffer pool (keyed there by SQL page IDs, here by simulated physical
// frame slots), reusing pkg/clockx for the ref-bit sweep and
// internal/clockring for the fixed-membership ring of frame slots.
package frame

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/kernelcore/internal/clockring"
	"github.com/tuannm99/kernelcore/internal/hwpt"
	"github.com/tuannm99/kernelcore/internal/kerrors"
	locking "github.com/tuannm99/kernelcore/internal/lock"
	"github.com/tuannm99/kernelcore/pkg/clockx"
)

// maxEvictRetries bounds the eviction retry loop in Acquire. spec.md §4.1
// calls for "a bounded retry count" without naming one; original_source
// does not bound it at all (and would spin forever with no swap). This
// project picks 50 and panics past it.
const maxEvictRetries = 50

// SwapWriter is the slice of the swap table (internal/swap) that eviction
// needs: write a dirty victim page out. Declared here rather than
// importing internal/swap to avoid a frame<->swap import cycle (swap's
// Read, in turn, depends on a FrameAllocator it declares).
type SwapWriter interface {
	Write(ctx context.Context, owner uint64, upage uintptr, page []byte) error
}

// PageAllocator zeroes a frame's backing buffer on (re)allocation, the
// spec's "underlying allocator". Pluggable so tests can inject allocation
// failures.
type PageAllocator interface {
	Zero(buf []byte) error
}

type zeroAllocator struct{}

func (zeroAllocator) Zero(buf []byte) error {
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

type frameEntry struct {
	slot  int
	owner uint64
	upage uintptr
}

// Table is the frame table: capacity fixed-size slots of simulated
// physical memory, a clock hand over them, and the frame-mapping index
// keyed by kernel address.
type Table struct {
	mu sync.Mutex

	capacity int
	pageSize int
	base     hwpt.KAddr

	pages     [][]byte
	freeMask  []bool
	ring      *clockring.Ring[int, *frameEntry]
	clock     *clockx.Clock
	byAddr    map[hwpt.KAddr]*frameEntry
	pins      map[hwpt.KAddr]*locking.RefCount
	swap      SwapWriter
	hwpts     *hwpt.Registry
	allocator PageAllocator
}

// Option configures a Table at construction.
type Option func(*Table)

// WithAllocator overrides the default zero-filling allocator.
func WithAllocator(a PageAllocator) Option {
	return func(t *Table) { t.allocator = a }
}

// NewTable constructs a frame table of capacity physical frames, each
// pageSize bytes, addressed starting at base. swap backs eviction of dirty
// pages; hwpts resolves each owner's hardware page table.
func NewTable(capacity, pageSize int, base hwpt.KAddr, swap SwapWriter, hwpts *hwpt.Registry, opts ...Option) *Table {
	t := &Table{
		capacity:  capacity,
		pageSize:  pageSize,
		base:      base,
		pages:     make([][]byte, capacity),
		freeMask:  make([]bool, capacity),
		ring:      clockring.New[int, *frameEntry](),
		clock:     clockx.New(capacity),
		byAddr:    make(map[hwpt.KAddr]*frameEntry),
		pins:      make(map[hwpt.KAddr]*locking.RefCount),
		swap:      swap,
		hwpts:     hwpts,
		allocator: zeroAllocator{},
	}
	for i := 0; i < capacity; i++ {
		t.pages[i] = make([]byte, pageSize)
		t.freeMask[i] = true
		// Ring membership is fixed for the table's lifetime (spec.md §3's
		// "the ring is never empty"): every slot exists from construction,
		// only its payload toggles between nil (free) and an entry.
		t.ring.Insert(i, nil)
	}
	return t
}

func (t *Table) slotKaddr(slot int) hwpt.KAddr {
	return t.base + hwpt.KAddr(slot*t.pageSize)
}

func (t *Table) kaddrSlot(k hwpt.KAddr) (int, bool) {
	if k < t.base {
		return 0, false
	}
	d := int(k - t.base)
	if d%t.pageSize != 0 {
		return 0, false
	}
	slot := d / t.pageSize
	if slot < 0 || slot >= t.capacity {
		return 0, false
	}
	return slot, true
}

// findContiguousFreeLocked returns the first slot of a run of n
// consecutive free slots, satisfying acquire(n)'s "n contiguous pages".
func (t *Table) findContiguousFreeLocked(n int) (int, bool) {
	run := 0
	for i := 0; i < t.capacity; i++ {
		if t.freeMask[i] {
			run++
			if run == n {
				return i - n + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Acquire returns n contiguous fresh frames owned by owner, zeroed, with
// reference bit 1 and pinned (not yet evictable) until Map installs the
// mapping — spec.md §4.1 acquire(n) and §4.4's "faulting thread temporarily
// owns the chosen frame" atomicity rule.
func (t *Table) Acquire(ctx context.Context, owner uint64, n int) ([]hwpt.KAddr, error) {
	if n < 1 {
		return nil, kerrors.New("frame.Acquire", kerrors.ErrPolicyViolation, fmt.Errorf("n=%d must be >= 1", n))
	}

	for attempt := 0; ; attempt++ {
		t.mu.Lock()
		start, ok := t.findContiguousFreeLocked(n)
		t.mu.Unlock()
		if ok {
			return t.allocateLocked(owner, start, n)
		}

		if attempt >= maxEvictRetries {
			panic(fmt.Sprintf("frame: acquire(%d) exceeded %d eviction retries, no swap relief", n, maxEvictRetries))
		}

		evicted, err := t.evictOnce(ctx)
		if err != nil {
			return nil, err
		}
		if !evicted {
			// No evictable victim exists this sweep (everything pinned);
			// count it as a retry and try again, bounded above.
			continue
		}
	}
}

func (t *Table) allocateLocked(owner uint64, start, n int) ([]hwpt.KAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kaddrs := make([]hwpt.KAddr, n)
	for i := 0; i < n; i++ {
		slot := start + i
		if err := t.allocator.Zero(t.pages[slot]); err != nil {
			return nil, kerrors.New("frame.Acquire", kerrors.ErrOutOfMemory, err)
		}
		kaddr := t.slotKaddr(slot)
		entry := &frameEntry{slot: slot, owner: owner}
		t.byAddr[kaddr] = entry
		t.ring.Insert(slot, entry)
		t.clock.Touch(slot)
		t.clock.SetEvictable(slot, false) // pinned until Map
		t.pins[kaddr] = locking.NewRefCount()
		t.freeMask[slot] = false
		kaddrs[i] = kaddr
		slog.Debug("frame: acquired", "kaddr", kaddr, "owner", owner, "slot", slot)
	}
	return kaddrs, nil
}

// Map installs upage -> kaddr in owner's hardware page table and records
// the frame mapping, then unpins the frame so it becomes evictable
// (spec.md §4.1 map(upage, kpage, owner, writable)).
func (t *Table) Map(ctx context.Context, upage uintptr, kaddr hwpt.KAddr, owner uint64, writable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byAddr[kaddr]
	if !ok {
		return kerrors.New("frame.Map", kerrors.ErrPolicyViolation, fmt.Errorf("kaddr %#x is not an allocated frame", kaddr))
	}

	pt := t.hwpts.For(owner)
	if !pt.Install(upage, kaddr, writable) {
		return kerrors.New("frame.Map", kerrors.ErrPolicyViolation, fmt.Errorf("owner %d already maps upage %#x", owner, upage))
	}
	entry.owner = owner
	entry.upage = upage

	if rc, ok := t.pins[kaddr]; ok {
		if rc.Dec() {
			delete(t.pins, kaddr)
			t.clock.SetEvictable(entry.slot, true)
		}
	}
	return nil
}

// Unmap removes any frame mapping referencing kaddr and clears the
// corresponding hardware page-table entry (spec.md §4.1 unmap(kpage)),
// without freeing the frame itself.
func (t *Table) Unmap(kaddr hwpt.KAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byAddr[kaddr]
	if !ok {
		return
	}
	t.hwpts.For(entry.owner).Clear(entry.upage)
}

// Release unregisters n frames starting at kaddr and returns them to the
// free pool. If evict is true, any frame whose hardware dirty bit is set
// is written to swap first (spec.md §4.1 release(addr, n, evict?)).
func (t *Table) Release(ctx context.Context, kaddr hwpt.KAddr, n int, evict bool) error {
	for i := 0; i < n; i++ {
		k := kaddr + hwpt.KAddr(i*t.pageSize)
		if err := t.releaseOne(ctx, k, evict); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) releaseOne(ctx context.Context, k hwpt.KAddr, evict bool) error {
	t.mu.Lock()
	entry, ok := t.byAddr[k]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	slot := entry.slot
	owner, upage := entry.owner, entry.upage
	pt := t.hwpts.For(owner)

	var dirtyData []byte
	if evict && pt.IsDirty(upage) {
		dirtyData = make([]byte, t.pageSize)
		copy(dirtyData, t.pages[slot])
	}
	t.mu.Unlock()

	if dirtyData != nil {
		if err := t.swap.Write(ctx, owner, upage, dirtyData); err != nil {
			return kerrors.New("frame.Release", kerrors.ErrIO, err)
		}
	}

	t.mu.Lock()
	pt.Clear(upage)
	delete(t.byAddr, k)
	delete(t.pins, k)
	t.clock.Remove(slot)
	t.ring.Insert(slot, nil)
	t.freeMask[slot] = true
	t.mu.Unlock()
	slog.Debug("frame: released", "kaddr", k, "owner", owner, "evict", evict)
	return nil
}

// WritePage overwrites kaddr's backing buffer, used by swap-in to install
// freshly-read page contents before Map runs.
func (t *Table) WritePage(kaddr hwpt.KAddr, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.kaddrSlot(kaddr)
	if !ok {
		return kerrors.New("frame.WritePage", kerrors.ErrPolicyViolation, fmt.Errorf("kaddr %#x out of range", kaddr))
	}
	if _, allocated := t.byAddr[kaddr]; !allocated {
		return kerrors.New("frame.WritePage", kerrors.ErrPolicyViolation, fmt.Errorf("kaddr %#x not allocated", kaddr))
	}
	copy(t.pages[slot], data)
	return nil
}

// ReadPage copies kaddr's current backing buffer into dst.
func (t *Table) ReadPage(kaddr hwpt.KAddr, dst []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.kaddrSlot(kaddr)
	if !ok {
		return kerrors.New("frame.ReadPage", kerrors.ErrPolicyViolation, fmt.Errorf("kaddr %#x out of range", kaddr))
	}
	copy(dst, t.pages[slot])
	return nil
}

// InUse reports the number of currently-allocated frames, for diagnostics
// and tests (spec.md §8 property 7 checks no two frames share a kaddr,
// which the byAddr map structurally guarantees).
func (t *Table) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byAddr)
}
