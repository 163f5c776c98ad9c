// Package vmfault implements the page-fault handler (spec.md §4.4, §2 row
// F): dispatches a fault to the SPT, the swap table, or the stack-growth
// heuristic, converting every unrecoverable case into process termination
// per spec.md §7. Grounded on original_source/src/userprog/exception.c's
// page_fault handler and the vm patch to it, restructured against this
// project's frame/swap/spt packages rather than Pintos's global statics.
package vmfault

import (
	"context"
	"log/slog"

	"github.com/tuannm99/kernelcore/internal/frame"
	"github.com/tuannm99/kernelcore/internal/spt"
	"github.com/tuannm99/kernelcore/internal/swap"
)

// Outcome classifies how a fault was resolved.
type Outcome int

const (
	// OutcomeInstalled means a page was mapped and the faulting
	// instruction may be retried.
	OutcomeInstalled Outcome = iota
	// OutcomeKilled means the fault is not resolvable; the offending
	// process must be terminated.
	OutcomeKilled
)

// Result is what HandleFault returns.
type Result struct {
	Outcome  Outcome
	ExitCode int // -1 when Outcome == OutcomeKilled, per spec.md §4.4/§7
}

func installed() Result { return Result{Outcome: OutcomeInstalled} }
func killed() Result     { return Result{Outcome: OutcomeKilled, ExitCode: -1} }

// SPTLookup resolves the per-process supplemental page table for owner,
// the Go stand-in for a kernel's per-process VM struct.
type SPTLookup func(owner uint64) *spt.Table

// Handler wires the frame table, swap table, and per-process SPTs into the
// dispatch logic of spec.md §4.4.
type Handler struct {
	frames *frame.Table
	swaps  *swap.Table
	sptFor SPTLookup

	pageSize          int
	stackTop          uintptr
	stackLimitBytes   int64
	stackGrowthMargin int64
}

// NewHandler constructs a fault handler. stackTop is the highest user
// address (Pintos's PHYS_BASE); stackLimitBytes bounds how far the stack
// may grow below it; stackGrowthMargin is spec.md §4.4's "fa >= esp - 32"
// constant (ADDED, configurable per spec.md §9's note that the exact value
// is a convention).
func NewHandler(frames *frame.Table, swaps *swap.Table, sptFor SPTLookup, pageSize int, stackTop uintptr, stackLimitBytes, stackGrowthMargin int64) *Handler {
	return &Handler{
		frames:            frames,
		swaps:             swaps,
		sptFor:            sptFor,
		pageSize:          pageSize,
		stackTop:          stackTop,
		stackLimitBytes:   stackLimitBytes,
		stackGrowthMargin: stackGrowthMargin,
	}
}

// HandleFault dispatches a user fault at faultAddr for owner, whose saved
// stack pointer is esp, implementing spec.md §4.4's four cases exactly.
func (h *Handler) HandleFault(ctx context.Context, owner uint64, faultAddr, esp uintptr) Result {
	upage := faultAddr &^ (uintptr(h.pageSize) - 1)
	sptTable := h.sptFor(owner)

	entry, ok := sptTable.Get(upage)
	if !ok {
		if h.isStackGrowth(faultAddr, esp, upage) {
			return h.installStackPage(ctx, owner, upage, sptTable)
		}
		slog.Debug("vmfault: unresolvable fault, terminating", "owner", owner, "addr", faultAddr)
		return killed()
	}

	switch entry.Origin {
	case spt.OriginSwap:
		if _, err := h.swaps.Read(ctx, owner, upage, h.frames, sptTable); err != nil {
			slog.Debug("vmfault: swap-in failed, terminating", "owner", owner, "upage", upage, "err", err)
			return killed()
		}
		return installed()
	case spt.OriginExecutable, spt.OriginFile:
		return h.installFileBacked(ctx, owner, upage, entry)
	default:
		return killed()
	}
}

// isStackGrowth implements spec.md §4.4's stack-growth heuristic: accept if
// fa >= esp - stackGrowthMargin and upage lies within the stack region.
func (h *Handler) isStackGrowth(faultAddr, esp, upage uintptr) bool {
	if faultAddr >= h.stackTop {
		return false
	}
	margin := uintptr(h.stackGrowthMargin)
	if faultAddr+margin < esp {
		return false
	}
	lowerBound := h.stackTop - uintptr(h.stackLimitBytes)
	return upage >= lowerBound
}

// installStackPage allocates a zero frame, maps it writable, and installs
// an anonymous (origin SWAP) SPTE — spec.md §4.4 case 1.
func (h *Handler) installStackPage(ctx context.Context, owner uint64, upage uintptr, sptTable *spt.Table) Result {
	kaddrs, err := h.frames.Acquire(ctx, owner, 1)
	if err != nil {
		slog.Debug("vmfault: stack growth frame acquire failed", "owner", owner, "err", err)
		return killed()
	}
	if err := h.frames.Map(ctx, upage, kaddrs[0], owner, true); err != nil {
		slog.Debug("vmfault: stack growth map failed", "owner", owner, "err", err)
		return killed()
	}
	sptTable.Set(&spt.Entry{UAddr: upage, Origin: spt.OriginSwap, Writable: true})
	slog.Debug("vmfault: installed stack growth page", "owner", owner, "upage", upage)
	return installed()
}

// installFileBacked allocates a frame, reads ReadBytes from (File, FileOfs)
// into it, zeroes the remainder, and maps it with the recorded writable bit
// — spec.md §4.4 case 3 (EXECUTABLE or FILE origin).
func (h *Handler) installFileBacked(ctx context.Context, owner uint64, upage uintptr, entry *spt.Entry) Result {
	kaddrs, err := h.frames.Acquire(ctx, owner, 1)
	if err != nil {
		slog.Debug("vmfault: file-backed frame acquire failed", "owner", owner, "err", err)
		return killed()
	}

	buf := make([]byte, h.pageSize) // zero-initialized: covers the "zero remaining bytes" step
	if entry.ReadBytes > 0 {
		if _, err := entry.File.ReadAt(buf[:entry.ReadBytes], entry.FileOfs); err != nil {
			slog.Debug("vmfault: file-backed read failed", "owner", owner, "err", err)
			return killed()
		}
	}
	if err := h.frames.WritePage(kaddrs[0], buf); err != nil {
		slog.Debug("vmfault: file-backed write-page failed", "owner", owner, "err", err)
		return killed()
	}
	if err := h.frames.Map(ctx, upage, kaddrs[0], owner, entry.Writable); err != nil {
		slog.Debug("vmfault: file-backed map failed", "owner", owner, "err", err)
		return killed()
	}
	return installed()
}
