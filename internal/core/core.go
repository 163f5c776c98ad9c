// Package core provides the lifecycle glue (spec.md §4.6/§9, §2 row I):
// construction, background-thread startup, and flush-on-shutdown teardown
// for the VM, buffer-cache, and timer subsystems. spec.md §9 models the
// global mutable state as "an owning kernel struct constructed at boot,
// passed by handle"; Core is that struct.
package core

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"

	"github.com/tuannm99/kernelcore/internal/blockdev"
	"github.com/tuannm99/kernelcore/internal/bufcache"
	"github.com/tuannm99/kernelcore/internal/config"
	"github.com/tuannm99/kernelcore/internal/frame"
	"github.com/tuannm99/kernelcore/internal/hwpt"
	"github.com/tuannm99/kernelcore/internal/kerrors"
	"github.com/tuannm99/kernelcore/internal/sched"
	"github.com/tuannm99/kernelcore/internal/spt"
	"github.com/tuannm99/kernelcore/internal/swap"
	"github.com/tuannm99/kernelcore/internal/timer"
	"github.com/tuannm99/kernelcore/internal/vmfault"
)

// Reserved thread identities for the two background service threads this
// package owns. Real kernel code would get these from sched.Spawn; the two
// loops here instead run inside conc-managed goroutines and need a stable
// identity to Block/Unblock against, so Core mints them once at
// construction rather than letting the scheduler assign arbitrary ones.
const (
	timerThreadID       sched.ThreadID = 1<<63 - 2
	writeBehindThreadID sched.ThreadID = 1<<63 - 1
)

// Core composes every subsystem spec.md specifies into one owning handle,
// constructed at boot and torn down at shutdown.
type Core struct {
	Cfg     config.Tunables
	Devices *blockdev.Registry
	Swap    *swap.Table
	Frames  *frame.Table
	HWPTs   *hwpt.Registry
	Fault   *vmfault.Handler
	Cache   *bufcache.Cache
	Timer   *timer.Service
	Sched   sched.Scheduler

	writeBehind *bufcache.WriteBehind
	spts        *sptRegistry
	wg          conc.WaitGroup
}

// sptRegistry hands out per-owner supplemental page tables, mirroring
// hwpt.Registry's per-owner pattern (internal/spt is process-scoped but has
// no registry of its own since spt.NewTable needs the owner's hwpt.Table
// at construction).
type sptRegistry struct {
	hwpts *hwpt.Registry
	tbls  map[uint64]*spt.Table
}

func newSPTRegistry(hwpts *hwpt.Registry) *sptRegistry {
	return &sptRegistry{hwpts: hwpts, tbls: make(map[uint64]*spt.Table)}
}

func (r *sptRegistry) For(owner uint64) *spt.Table {
	if t, ok := r.tbls[owner]; ok {
		return t
	}
	t := spt.NewTable(r.hwpts.For(owner))
	r.tbls[owner] = t
	return t
}

// Destroy tears down owner's SPT at process exit (spec.md §4.2 destroy)
// and drops its hardware page table.
func (r *sptRegistry) Destroy(owner uint64) {
	if t, ok := r.tbls[owner]; ok {
		t.Destroy()
		delete(r.tbls, owner)
	}
	r.hwpts.Drop(owner)
}

// Option configures a Core at construction, for wiring test doubles in
// place of real devices/schedulers.
type Option func(*Core)

// WithScheduler overrides the default sched.Simple.
func WithScheduler(s sched.Scheduler) Option {
	return func(c *Core) { c.Sched = s }
}

// New wires every subsystem together per SPEC_FULL.md §3.10: frame table,
// swap table, buffer cache, fault handler, and timer service, all sized per
// cfg. filesysDev backs the buffer cache; swapDev (may be nil) backs the
// swap table, per spec.md §4.3's "no swap device configured" case.
func New(cfg config.Tunables, filesysDev, swapDev blockdev.Device, stackTop uintptr, opts ...Option) (*Core, error) {
	if filesysDev == nil {
		return nil, kerrors.New("core.New", kerrors.ErrPolicyViolation, fmt.Errorf("filesystem device is required"))
	}

	devices := blockdev.NewRegistry()
	devices.Register(filesysDev)
	if swapDev != nil {
		devices.Register(swapDev)
	}

	hwpts := hwpt.NewRegistry()
	swapTable := swap.NewTable(swapDev, cfg.PageSize, cfg.SectorSize)
	frames := frame.NewTable(cfg.FrameCapacity, cfg.PageSize, 0, swapTable, hwpts)
	spts := newSPTRegistry(hwpts)
	cache := bufcache.New(filesysDev, cfg.CacheCapacity, cfg.SectorSize)
	sch := sched.Scheduler(sched.NewSimple())
	timerSvc := timer.NewService(sch, cfg.IdleMargin, cfg.TimerFreq)
	fault := vmfault.NewHandler(frames, swapTable, spts.For, cfg.PageSize, stackTop, cfg.StackLimitBytes, cfg.StackGrowthMargin)
	wb := bufcache.NewWriteBehind(cache, timerSvc, cfg.WriteBehindIntervalMs)

	c := &Core{
		Cfg:         cfg,
		Devices:     devices,
		Swap:        swapTable,
		Frames:      frames,
		HWPTs:       hwpts,
		Fault:       fault,
		Cache:       cache,
		Timer:       timerSvc,
		Sched:       sch,
		writeBehind: wb,
		spts:        spts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SPTFor returns owner's supplemental page table, creating it on first use.
func (c *Core) SPTFor(owner uint64) *spt.Table { return c.spts.For(owner) }

// DestroyProcess tears down owner's SPT and hardware page table at process
// exit (spec.md §4.2 destroy).
func (c *Core) DestroyProcess(owner uint64) { c.spts.Destroy(owner) }

// Run starts the timer service and buffer-cache write-behind background
// threads (spec.md §2 row I "Init"), each wrapped by conc so a panic in
// either is caught and surfaces through Wait rather than silently killing
// the process.
func (c *Core) Run(ctx context.Context) {
	c.wg.Go(func() {
		c.Timer.Run(sched.WithThread(ctx, timerThreadID))
	})
	c.wg.Go(func() {
		c.writeBehind.Run(sched.WithThread(ctx, writeBehindThreadID))
	})
}

// Shutdown stops the write-behind switch, flushes the cache, and stops the
// timer service — spec.md §2 row I "flush-on-shutdown, teardown". It does
// not block on the background goroutines exiting: on a simulated timer
// with no free-running driver, the write-behind thread only wakes on the
// next explicit Tick, so waiting here would hang a caller that is not also
// driving the clock forward. Callers that own a real tick source should
// call Wait after Shutdown.
func (c *Core) Shutdown(ctx context.Context) error {
	c.writeBehind.Stop()
	c.Timer.Stop()
	if err := c.Cache.Teardown(ctx); err != nil {
		return err
	}
	return nil
}

// Wait blocks until both background threads started by Run have exited,
// re-panicking if either panicked (conc.WaitGroup's contract).
func (c *Core) Wait() {
	c.wg.Wait()
}
