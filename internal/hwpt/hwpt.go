// Package hwpt simulates the hardware page table spec.md §6 names as a
// consumed external interface: install/clear/is_dirty/resolve. There is no
// real MMU here, so MarkWritten lets test harnesses simulate a user write
// setting the dirty bit.
package hwpt

import "sync"

// KAddr is a kernel virtual address identifying a physical frame.
type KAddr uintptr

type ptEntry struct {
	kaddr    KAddr
	writable bool
	dirty    bool
}

// Table is one owner's (process's) hardware page table.
type Table struct {
	mu      sync.Mutex
	entries map[uintptr]*ptEntry // user vaddr -> entry
}

func NewTable() *Table {
	return &Table{entries: make(map[uintptr]*ptEntry)}
}

// Install maps upage -> kaddr with the given writable bit. Reports ok=false
// if upage is already mapped (spec.md §4.1 "Fails if owner already has a
// mapping for upage").
func (t *Table) Install(upage uintptr, kaddr KAddr, writable bool) (ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[upage]; exists {
		return false
	}
	t.entries[upage] = &ptEntry{kaddr: kaddr, writable: writable}
	return true
}

// Clear removes upage's mapping, if any.
func (t *Table) Clear(upage uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, upage)
}

// IsDirty reports whether upage's page has been written since it was last
// cleared.
func (t *Table) IsDirty(upage uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[upage]
	return ok && e.dirty
}

// Resolve returns the kernel address upage is mapped to, if any.
func (t *Table) Resolve(upage uintptr) (KAddr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[upage]
	if !ok {
		return 0, false
	}
	return e.kaddr, true
}

// MarkWritten simulates the CPU setting the dirty bit on a user write to
// upage. Test-only: a real hardware page table sets this as a side effect
// of the store instruction itself.
func (t *Table) MarkWritten(upage uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[upage]; ok {
		e.dirty = true
	}
}

// ClearDirty resets upage's dirty bit without unmapping it, used after a
// dirty page has been written back.
func (t *Table) ClearDirty(upage uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[upage]; ok {
		e.dirty = false
	}
}

// Writable reports the recorded writable bit for upage.
func (t *Table) Writable(upage uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[upage]
	return ok && e.writable
}

// Registry hands out per-owner page tables, the Go stand-in for a kernel's
// per-process page directory.
type Registry struct {
	mu     sync.Mutex
	tables map[uint64]*Table
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[uint64]*Table)}
}

// For returns owner's page table, creating it on first use.
func (r *Registry) For(owner uint64) *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[owner]
	if !ok {
		t = NewTable()
		r.tables[owner] = t
	}
	return t
}

// Drop removes owner's page table entirely (process exit).
func (r *Registry) Drop(owner uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, owner)
}
