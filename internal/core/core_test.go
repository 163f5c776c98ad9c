package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/kernelcore/internal/blockdev"
	"github.com/tuannm99/kernelcore/internal/config"
	"github.com/tuannm99/kernelcore/internal/spt"
	"github.com/tuannm99/kernelcore/internal/vmfault"
)

func newTestCore(t *testing.T, cfg config.Tunables) *Core {
	t.Helper()
	fs := afero.NewMemMapFs()
	filesysDev, err := blockdev.NewFileDevice(fs, "/fs.dev", blockdev.RoleFilesys, 64, cfg.SectorSize)
	require.NoError(t, err)
	swapDev, err := blockdev.NewFileDevice(fs, "/swap.dev", blockdev.RoleSwap, cfg.FrameCapacity*cfg.SectorsPerSlot()*4, cfg.SectorSize)
	require.NoError(t, err)

	c, err := New(cfg, filesysDev, swapDev, 0xC0000000)
	require.NoError(t, err)
	return c
}

func TestNew_WiresSubsystems(t *testing.T) {
	c := newTestCore(t, config.Default())
	require.NotNil(t, c.Frames)
	require.NotNil(t, c.Swap)
	require.NotNil(t, c.Cache)
	require.NotNil(t, c.Timer)
	require.NotNil(t, c.Fault)
	require.True(t, c.Swap.Available())
}

func TestNew_RejectsNilFilesysDevice(t *testing.T) {
	_, err := New(config.Default(), nil, nil, 0xC0000000)
	require.Error(t, err)
}

// TestCore_SwapRoundTripAcrossFrameCapacity is spec.md §8 scenario S4: with
// the frame table sized below the number of distinct pages touched, at
// least one page is evicted to swap and recovered intact on refault.
func TestCore_SwapRoundTripAcrossFrameCapacity(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.FrameCapacity = 4
	c := newTestCore(t, cfg)

	const owner = uint64(1)
	const pages = 5

	for i := 0; i < pages; i++ {
		upage := uintptr(0x10000 + i*cfg.PageSize)
		kaddrs, err := c.Frames.Acquire(ctx, owner, 1)
		require.NoError(t, err)
		require.NoError(t, c.Frames.Map(ctx, upage, kaddrs[0], owner, true))

		canary := bytes.Repeat([]byte{byte(i + 1)}, cfg.PageSize)
		require.NoError(t, c.Frames.WritePage(kaddrs[0], canary))
		c.HWPTs.For(owner).MarkWritten(upage)
		c.SPTFor(owner).Set(&spt.Entry{UAddr: upage, Origin: spt.OriginSwap, Writable: true})
	}

	evictedSome := false
	for i := 0; i < pages; i++ {
		upage := uintptr(0x10000 + i*cfg.PageSize)
		if _, ok := c.HWPTs.For(owner).Resolve(upage); !ok {
			evictedSome = true
			res := c.Fault.HandleFault(ctx, owner, upage, upage+4096)
			require.Equal(t, vmfault.OutcomeInstalled, res.Outcome)
		}

		kaddr, ok := c.HWPTs.For(owner).Resolve(upage)
		require.True(t, ok)
		buf := make([]byte, cfg.PageSize)
		require.NoError(t, c.Frames.ReadPage(kaddr, buf))
		require.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, cfg.PageSize), buf)
	}
	require.True(t, evictedSome, "expected at least one page to have been swapped out with only 4 frames for 5 pages")
}

func TestCore_DestroyProcessClearsSPTAndHWPT(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(t, config.Default())

	const owner = uint64(9)
	kaddrs, err := c.Frames.Acquire(ctx, owner, 1)
	require.NoError(t, err)
	require.NoError(t, c.Frames.Map(ctx, 0x1000, kaddrs[0], owner, true))
	c.SPTFor(owner).Set(&spt.Entry{UAddr: 0x1000, Origin: spt.OriginSwap, Writable: true})

	c.DestroyProcess(owner)

	_, ok := c.HWPTs.For(owner).Resolve(0x1000)
	require.False(t, ok)
	require.Equal(t, 0, c.SPTFor(owner).Len())
}

func TestCore_ShutdownFlushesCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(t, config.Default())

	require.NoError(t, c.Cache.Write(ctx, 3, bytes.Repeat([]byte{0x7}, c.Cfg.SectorSize)))
	require.NoError(t, c.Shutdown(ctx))
	require.Equal(t, int64(0), c.Cache.DirtyCount())
}
