package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimple_UnblockWakesBlockedThread(t *testing.T) {
	s := NewSimple()
	id := ThreadID(1)

	var wg sync.WaitGroup
	wg.Add(1)
	unblocked := make(chan struct{})
	go func() {
		defer wg.Done()
		s.Block(context.Background(), id)
		close(unblocked)
	}()

	// Give the goroutine a chance to reach Block.
	time.Sleep(20 * time.Millisecond)
	s.Unblock(id)

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("thread was never unblocked")
	}
	wg.Wait()
}

func TestSimple_UnblockIdempotentWhenNotBlocked(t *testing.T) {
	s := NewSimple()
	require.NotPanics(t, func() {
		s.Unblock(999)
		s.Unblock(999)
	})
}

// TestSimple_UnblockBeforeBlockIsNotLost guards against the lost-wakeup
// race: a caller that enqueues state and calls Unblock before the target
// thread reaches Block must not leave that thread waiting forever.
func TestSimple_UnblockBeforeBlockIsNotLost(t *testing.T) {
	s := NewSimple()
	id := ThreadID(42)

	s.Unblock(id) // races ahead of the matching Block call below

	done := make(chan struct{})
	go func() {
		s.Block(context.Background(), id)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Block hung: an Unblock that arrived first was dropped")
	}
}

func TestSimple_SpawnAssignsDistinctIDs(t *testing.T) {
	s := NewSimple()
	seen := make(chan ThreadID, 2)
	id1 := s.Spawn("a", func(ctx context.Context) { seen <- s.Current(ctx) })
	id2 := s.Spawn("b", func(ctx context.Context) { seen <- s.Current(ctx) })
	require.NotEqual(t, id1, id2)

	got := map[ThreadID]bool{<-seen: true, <-seen: true}
	require.True(t, got[id1])
	require.True(t, got[id2])
}
