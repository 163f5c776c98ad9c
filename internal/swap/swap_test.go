package swap

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/kernelcore/internal/blockdev"
	"github.com/tuannm99/kernelcore/internal/hwpt"
	"github.com/tuannm99/kernelcore/internal/spt"
)

type fakeFrames struct {
	pages  map[hwpt.KAddr][]byte
	next   hwpt.KAddr
	pt     *hwpt.Table
	mapped map[uintptr]hwpt.KAddr
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{
		pages:  make(map[hwpt.KAddr][]byte),
		pt:     hwpt.NewTable(),
		mapped: make(map[uintptr]hwpt.KAddr),
	}
}

func (f *fakeFrames) Acquire(ctx context.Context, owner uint64, n int) ([]hwpt.KAddr, error) {
	out := make([]hwpt.KAddr, n)
	for i := 0; i < n; i++ {
		f.next++
		f.pages[f.next] = make([]byte, 4096)
		out[i] = f.next
	}
	return out, nil
}

func (f *fakeFrames) WritePage(kaddr hwpt.KAddr, data []byte) error {
	copy(f.pages[kaddr], data)
	return nil
}

func (f *fakeFrames) Map(ctx context.Context, upage uintptr, kaddr hwpt.KAddr, owner uint64, writable bool) error {
	if !f.pt.Install(upage, kaddr, writable) {
		return context.Canceled
	}
	f.mapped[upage] = kaddr
	return nil
}

func newDevice(t *testing.T, sectors int) blockdev.Device {
	t.Helper()
	dev, err := blockdev.NewFileDevice(afero.NewMemMapFs(), "/swap.dev", blockdev.RoleSwap, sectors, 512)
	require.NoError(t, err)
	return dev
}

func TestTable_Available(t *testing.T) {
	require.False(t, NewTable(nil, 4096, 512).Available())
	require.True(t, NewTable(newDevice(t, 8), 4096, 512).Available())
}

// TestTable_WriteReadRoundTrip is spec.md §8 property 4: swap_write(p);
// p2 = swap_read(p) produces bytes equal to those written.
func TestTable_WriteReadRoundTrip(t *testing.T) {
	dev := newDevice(t, 16) // 16 sectors * 512B = 8192B = 2 slots of 4096B
	tbl := NewTable(dev, 4096, 512)

	page := make([]byte, 4096)
	for i := range page {
		page[i] = byte(i % 251)
	}

	ctx := context.Background()
	require.NoError(t, tbl.Write(ctx, 1, 0x1000, page))
	require.Equal(t, 1, tbl.SlotCount())

	frames := newFakeFrames()
	sptTable := spt.NewTable(frames.pt)
	sptTable.Set(&spt.Entry{UAddr: 0x1000, Origin: spt.OriginSwap, Writable: true})

	got, err := tbl.Read(ctx, 1, 0x1000, frames, sptTable)
	require.NoError(t, err)
	require.Equal(t, page, got)

	// Slot freed after read.
	require.Equal(t, 0, tbl.SlotCount())
	kaddr, ok := frames.pt.Resolve(0x1000)
	require.True(t, ok)
	require.Equal(t, page, frames.pages[kaddr])
}

func TestTable_WriteFailsWhenFull(t *testing.T) {
	dev := newDevice(t, 8) // 1 slot
	tbl := NewTable(dev, 4096, 512)
	page := make([]byte, 4096)

	ctx := context.Background()
	require.NoError(t, tbl.Write(ctx, 1, 0x1000, page))
	err := tbl.Write(ctx, 2, 0x2000, page)
	require.Error(t, err)
}

func TestTable_ReadUnknownMapping(t *testing.T) {
	tbl := NewTable(newDevice(t, 8), 4096, 512)
	frames := newFakeFrames()
	sptTable := spt.NewTable(frames.pt)
	_, err := tbl.Read(context.Background(), 1, 0x9000, frames, sptTable)
	require.Error(t, err)
}
