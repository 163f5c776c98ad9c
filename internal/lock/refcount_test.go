package locking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefCount_StartsPinnedOnce(t *testing.T) {
	r := NewRefCount()
	require.Equal(t, int32(1), r.Get())
}

func TestRefCount_IncDecTracksHolders(t *testing.T) {
	r := NewRefCount()
	r.Inc()
	require.Equal(t, int32(2), r.Get())

	require.False(t, r.Dec())
	require.True(t, r.Dec())
	require.Equal(t, int32(0), r.Get())
}

func TestRefCount_DecBelowZeroPanics(t *testing.T) {
	r := NewRefCount()
	r.Dec()
	require.Panics(t, func() { r.Dec() })
}
