// Package spt implements the per-process supplemental page table (spec.md
// §3 "Supplemental Page Table Entry", §4.2): the source of truth for how to
// materialize a user page whose hardware PTE is absent.
package spt

import (
	"sync"

	"github.com/tuannm99/kernelcore/internal/hwpt"
)

// Origin tags where an SPTE's bytes come from.
type Origin int

const (
	OriginExecutable Origin = iota
	OriginSwap
	OriginFile
)

func (o Origin) String() string {
	switch o {
	case OriginExecutable:
		return "executable"
	case OriginSwap:
		return "swap"
	case OriginFile:
		return "file"
	default:
		return "unknown"
	}
}

// FileRef is the minimal "source file reference" spec.md §3 calls for:
// enough to read bytes at an offset when materializing an EXECUTABLE/FILE
// page. Satisfied by *os.File, afero files, or any test double.
type FileRef interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Entry is one SPTE: per-user-page metadata describing how to materialize
// it on fault.
type Entry struct {
	UAddr     uintptr
	Origin    Origin
	File      FileRef
	FileOfs   int64
	ReadBytes int
	ZeroBytes int
	Writable  bool
}

// Table is one process's supplemental page table, keyed by user virtual
// address (spec.md §3 invariant: at most one SPTE per (process, uaddr)).
type Table struct {
	mu      sync.RWMutex
	entries map[uintptr]*Entry
	pt      *hwpt.Table
}

// NewTable creates an empty SPT backed by pt, the owner's hardware page
// table (used by Free/Destroy to clear PTEs).
func NewTable(pt *hwpt.Table) *Table {
	return &Table{entries: make(map[uintptr]*Entry), pt: pt}
}

// Get looks up the SPTE for uaddr.
func (t *Table) Get(uaddr uintptr) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[uaddr]
	return e, ok
}

// Set installs or overwrites the SPTE for e.UAddr.
func (t *Table) Set(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.UAddr] = e
}

// Free removes the SPTE for uaddr and clears its hardware PTE.
func (t *Table) Free(uaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, uaddr)
	t.pt.Clear(uaddr)
}

// Destroy tears down the SPT at process exit: frees every entry and clears
// every hardware PTE, grounded on original_source/src/vm/suppl_page_table.c's
// suppl_destroy.
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for uaddr := range t.entries {
		t.pt.Clear(uaddr)
		delete(t.entries, uaddr)
	}
}

// Len reports the number of installed entries, for diagnostics and tests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
