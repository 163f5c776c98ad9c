package blockdev

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestFileDevice_WriteReadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	dev, err := NewFileDevice(fs, "/swap.dev", RoleSwap, 4, 512)
	require.NoError(t, err)
	defer dev.Close()

	require.Equal(t, 4, dev.Size())
	require.Equal(t, RoleSwap, dev.Role())

	ctx := context.Background()
	pattern := make([]byte, 512)
	for i := range pattern {
		pattern[i] = 0xAA
	}
	require.NoError(t, dev.WriteSector(ctx, 2, pattern))

	out := make([]byte, 512)
	require.NoError(t, dev.ReadSector(ctx, 2, out))
	require.Equal(t, pattern, out)

	// Untouched sector reads as zero.
	zero := make([]byte, 512)
	other := make([]byte, 512)
	require.NoError(t, dev.ReadSector(ctx, 0, other))
	require.Equal(t, zero, other)
}

func TestFileDevice_OutOfRange(t *testing.T) {
	fs := afero.NewMemMapFs()
	dev, err := NewFileDevice(fs, "/f.dev", RoleFilesys, 2, 512)
	require.NoError(t, err)
	defer dev.Close()

	ctx := context.Background()
	buf := make([]byte, 512)
	require.Error(t, dev.ReadSector(ctx, -1, buf))
	require.Error(t, dev.ReadSector(ctx, 2, buf))
	require.Error(t, dev.WriteSector(ctx, 5, buf))
}

func TestFileDevice_WrongBufferSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	dev, err := NewFileDevice(fs, "/f.dev", RoleFilesys, 2, 512)
	require.NoError(t, err)
	defer dev.Close()

	ctx := context.Background()
	require.Error(t, dev.ReadSector(ctx, 0, make([]byte, 10)))
	require.Error(t, dev.WriteSector(ctx, 0, make([]byte, 10)))
}

func TestRegistry_LookupMissingRole(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Lookup(RoleSwap)
	require.False(t, ok)

	fs := afero.NewMemMapFs()
	dev, err := NewFileDevice(fs, "/f.dev", RoleFilesys, 1, 512)
	require.NoError(t, err)
	reg.Register(dev)

	got, ok := reg.Lookup(RoleFilesys)
	require.True(t, ok)
	require.Equal(t, dev, got)
}
