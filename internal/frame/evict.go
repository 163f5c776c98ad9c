package frame

import (
	"context"
	"log/slog"
)

// evictOnce runs one iteration of the classic clock algorithm (spec.md
// §4.1 "Eviction algorithm"): advance the hand, clearing reference bits,
// until a frame with reference bit 0 and no outstanding pin is found; move
// the hand to its successor; if the victim is dirty, write it to swap;
// tear down the owner's mapping and free the frame.
//
// Returns evicted=false (no error) if the current sweep found no
// evictable victim at all — e.g. every frame is pinned mid-fault — so the
// caller can retry, bounded by maxEvictRetries.
func (t *Table) evictOnce(ctx context.Context) (evicted bool, err error) {
	t.mu.Lock()
	slot, ok := t.clock.Evict()
	if !ok {
		t.mu.Unlock()
		return false, nil
	}

	kaddr := t.slotKaddr(slot)
	entry, ok := t.byAddr[kaddr]
	if !ok {
		// Victim slot had no live entry (shouldn't happen if clock and
		// byAddr stay in sync); treat as a no-op sweep.
		t.mu.Unlock()
		return false, nil
	}
	owner, upage := entry.owner, entry.upage
	pt := t.hwpts.For(owner)
	dirty := pt.IsDirty(upage)

	var data []byte
	if dirty {
		data = make([]byte, t.pageSize)
		copy(data, t.pages[slot])
	}

	delete(t.byAddr, kaddr)
	delete(t.pins, kaddr)
	t.ring.Insert(slot, nil)
	t.freeMask[slot] = true
	t.mu.Unlock()

	if dirty {
		if werr := t.swap.Write(ctx, owner, upage, data); werr != nil {
			return false, werr
		}
	}

	pt.Clear(upage)
	slog.Debug("frame: evicted", "kaddr", kaddr, "owner", owner, "upage", upage, "dirty", dirty)
	return true, nil
}
