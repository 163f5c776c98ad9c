// Package sched supplies the scheduler interface spec.md §6 names as a
// consumed external collaborator (current/block/unblock/spawn/tick_hook),
// plus Simple, a goroutine-and-condvar reference implementation sufficient
// to drive the blocking/unblocking scenarios in spec.md §8 end-to-end. It is
// intentionally minimal: a real kernel scheduler is out of scope (spec.md
// §1).
package sched

import (
	"context"
	"sync"
)

// ThreadID identifies a schedulable thread. In Simple it is assigned
// sequentially; a real kernel would use its own thread-control-block
// pointer or index.
type ThreadID uint64

// Scheduler is the interface the VM/buffer-cache/timer core consumes.
type Scheduler interface {
	Current(ctx context.Context) ThreadID
	Block(ctx context.Context, id ThreadID)
	Unblock(id ThreadID) // interrupt-safe: a wakeup racing ahead of Block is not lost
	Spawn(name string, fn func(ctx context.Context)) ThreadID
	TickHook()
}

type threadState struct {
	id      ThreadID
	blocked bool
	pending bool // Unblock arrived before the matching Block call
	cond    *sync.Cond
}

// Simple is a goroutine+sync.Cond backed Scheduler. Each "thread" is a
// goroutine; Block/Unblock coordinate via a per-thread condition variable,
// matching spec.md §9's idempotent-unblock requirement.
type Simple struct {
	mu      sync.Mutex
	next    ThreadID
	threads map[ThreadID]*threadState
}

// currentKey is a context key the caller must thread through goroutines it
// spawns via Spawn (WithThread installs it). There is no real per-CPU
// "current thread" register in Go, so identity rides the context instead.
type currentKeyType struct{}

var currentKey = currentKeyType{}

func NewSimple() *Simple {
	return &Simple{threads: make(map[ThreadID]*threadState)}
}

// WithThread returns a context carrying id as the "current" thread, for use
// inside goroutines spawned outside of Spawn (e.g. the main goroutine
// driving a test).
func WithThread(ctx context.Context, id ThreadID) context.Context {
	return context.WithValue(ctx, currentKey, id)
}

func (s *Simple) Current(ctx context.Context) ThreadID {
	if id, ok := ctx.Value(currentKey).(ThreadID); ok {
		return id
	}
	return 0
}

// Spawn starts fn in a new goroutine with its own ThreadID, returning that
// ID immediately (spec.md §6's spawn(name, priority, entry, arg), minus
// priority which this reference scheduler does not model).
func (s *Simple) Spawn(name string, fn func(ctx context.Context)) ThreadID {
	s.mu.Lock()
	s.next++
	id := s.next
	s.threads[id] = &threadState{id: id, cond: sync.NewCond(&s.mu)}
	s.mu.Unlock()

	go fn(WithThread(context.Background(), id))
	return id
}

// Block suspends the calling thread until Unblock(id) is called. If an
// Unblock for id already arrived before this call — the race spec.md §5's
// "all mutation of the wake-queue happens with interrupts disabled" rule
// guards against in a real kernel, where Block/Unblock cannot interleave
// with the caller's own enqueue step — Block consumes that pending wakeup
// and returns immediately instead of waiting on a signal that already
// happened.
func (s *Simple) Block(ctx context.Context, id ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	if st.pending {
		st.pending = false
		return
	}
	st.blocked = true
	for st.blocked {
		st.cond.Wait()
	}
}

// Unblock wakes id if it is currently blocked. If it is not — including the
// case where id has not called Block yet at all — the wakeup is not
// dropped: it is recorded as pending and consumed by id's next Block call,
// per spec.md §9's "interrupt-safe unblock" requirement. This is what makes
// Unblock safe to call from the timer interrupt path in the window between
// a sleeper enqueuing its wake call and actually calling Block.
func (s *Simple) Unblock(id ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	if st.blocked {
		st.blocked = false
		st.cond.Broadcast()
		return
	}
	st.pending = true
}

// TickHook is called by the timer interrupt on every tick. Simple has no
// priority scheduling to drive here; real kernels use this to trigger
// preemption decisions.
func (s *Simple) TickHook() {}

func (s *Simple) stateLocked(id ThreadID) *threadState {
	st, ok := s.threads[id]
	if !ok {
		st = &threadState{id: id, cond: sync.NewCond(&s.mu)}
		s.threads[id] = st
	}
	return st
}
