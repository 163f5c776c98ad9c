// Package blockdev provides the raw, uncached sector read/write facade
// (spec.md §2 row B, §6 "Block device (consumed)"). It is backed by an
// afero.Fs so the same code path runs against an in-memory filesystem in
// tests and a real one in a deployed kernel, generalizing the teacher's
// internal/storage/segments.go per-segment *os.File pattern into a single
// swappable file per device.
package blockdev

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/tuannm99/kernelcore/internal/kerrors"
)

// Role identifies which external collaborator a device serves, the Go
// stand-in for spec.md §6's role(SWAP) / role(FILESYS).
type Role int

const (
	RoleSwap Role = iota
	RoleFilesys
)

func (r Role) String() string {
	switch r {
	case RoleSwap:
		return "swap"
	case RoleFilesys:
		return "filesys"
	default:
		return "unknown"
	}
}

// Device is a raw, sector-addressed block device. No caching happens at
// this layer; the buffer cache (internal/bufcache) sits above it.
type Device interface {
	ReadSector(ctx context.Context, idx int, dst []byte) error
	WriteSector(ctx context.Context, idx int, src []byte) error
	Size() int // sectors
	Role() Role
}

// FileDevice is a Device backed by a single afero file, sized in
// SectorSize-byte sectors.
type FileDevice struct {
	fs         afero.Fs
	path       string
	role       Role
	sectorSize int
	sectors    int

	mu sync.Mutex
	f  afero.File
}

// NewFileDevice creates (or truncates) the backing file at path to
// sectors*sectorSize bytes and returns a Device over it.
func NewFileDevice(fs afero.Fs, path string, role Role, sectors, sectorSize int) (*FileDevice, error) {
	if sectors <= 0 || sectorSize <= 0 {
		return nil, kerrors.New("blockdev.NewFileDevice", kerrors.ErrPolicyViolation,
			fmt.Errorf("sectors=%d sectorSize=%d must be positive", sectors, sectorSize))
	}

	f, err := fs.OpenFile(path, fileCreateFlags, 0o644)
	if err != nil {
		return nil, kerrors.New("blockdev.NewFileDevice", kerrors.ErrIO, err)
	}
	size := int64(sectors) * int64(sectorSize)
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, kerrors.New("blockdev.NewFileDevice", kerrors.ErrIO, err)
	}

	return &FileDevice{
		fs:         fs,
		path:       path,
		role:       role,
		sectorSize: sectorSize,
		sectors:    sectors,
		f:          f,
	}, nil
}

func (d *FileDevice) Size() int  { return d.sectors }
func (d *FileDevice) Role() Role { return d.role }

// Close releases the backing file handle.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

func (d *FileDevice) ReadSector(ctx context.Context, idx int, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if idx < 0 || idx >= d.sectors {
		return kerrors.New("blockdev.ReadSector", kerrors.ErrPolicyViolation, fmt.Errorf("sector %d out of range [0,%d)", idx, d.sectors))
	}
	if len(dst) != d.sectorSize {
		return kerrors.New("blockdev.ReadSector", kerrors.ErrPolicyViolation, fmt.Errorf("dst len %d != sector size %d", len(dst), d.sectorSize))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	off := int64(idx) * int64(d.sectorSize)
	if _, err := d.f.ReadAt(dst, off); err != nil {
		return kerrors.New("blockdev.ReadSector", kerrors.ErrIO, err)
	}
	return nil
}

func (d *FileDevice) WriteSector(ctx context.Context, idx int, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if idx < 0 || idx >= d.sectors {
		return kerrors.New("blockdev.WriteSector", kerrors.ErrPolicyViolation, fmt.Errorf("sector %d out of range [0,%d)", idx, d.sectors))
	}
	if len(src) != d.sectorSize {
		return kerrors.New("blockdev.WriteSector", kerrors.ErrPolicyViolation, fmt.Errorf("src len %d != sector size %d", len(src), d.sectorSize))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	off := int64(idx) * int64(d.sectorSize)
	if _, err := d.f.WriteAt(src, off); err != nil {
		return kerrors.New("blockdev.WriteSector", kerrors.ErrIO, err)
	}
	return nil
}

// Registry maps a Role to its Device, the Go stand-in for spec.md §6's
// role(SWAP) -> device | null, role(FILESYS) -> device.
type Registry struct {
	mu      sync.RWMutex
	devices map[Role]Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[Role]Device)}
}

func (r *Registry) Register(dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.Role()] = dev
}

// Lookup returns the device for role, or ok=false if none is registered
// (e.g. no swap device configured, per spec.md §4.3).
func (r *Registry) Lookup(role Role) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[role]
	return dev, ok
}
