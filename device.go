package clockfs

import (
	"fmt"
	"os"
)

// SectorSize is the fixed device block size this design supports (spec.md §1
// Non-goals: "no support for sector sizes other than 512 bytes").
const SectorSize = 512

// BlockDevice is the raw-device collaborator spec.md §1/§6 treats as an external
// black box: synchronous, infallible-by-contract fixed-size read/write. Everything
// above the buffer cache only ever talks to a BlockDevice, never to a file directly.
type BlockDevice interface {
	// ReadSector copies exactly SectorSize bytes from sector into dst.
	ReadSector(sector uint32, dst []byte) error
	// WriteSector copies exactly SectorSize bytes from src into sector.
	WriteSector(sector uint32, src []byte) error
	// SectorCount reports the device's fixed capacity in sectors.
	SectorCount() uint32
	// Close releases any OS resources (file handles, mount locks) held by the device.
	Close() error
}

// FileDevice backs a BlockDevice with a regular file or raw device node. It is the
// concrete implementation spec.md's black-box device contract needs to be useful
// outside of tests; platform-specific construction (device_linux.go/device_darwin.go)
// layers an OS-level single-mount guard on top via golang.org/x/sys/unix.Flock.
type FileDevice struct {
	f       *os.File
	sectors uint32
	locked  bool
}

// OpenFileDevice opens path, creating and sizing it to sectors*SectorSize if
// sectors is nonzero. A sectors of 0 opens an existing image as-is, with its
// sector count inferred from the file's current size - callers that only want
// to mount an already-formatted volume pass 0 rather than risk truncating it.
// Unless disableLock is set, an exclusive advisory lock is taken to enforce
// spec.md's "no concurrent mounts" Non-goal.
func OpenFileDevice(path string, sectors uint32, disableLock bool) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	if sectors == 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
		}
		sectors = uint32(info.Size() / SectorSize)
	} else if err := f.Truncate(int64(sectors) * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: truncate %s: %v", ErrIO, path, err)
	}

	d := &FileDevice{f: f, sectors: sectors}
	if !disableLock {
		if err := lockDeviceFile(f); err != nil {
			f.Close()
			return nil, err
		}
		d.locked = true
	}
	return d, nil
}

func (d *FileDevice) ReadSector(sector uint32, dst []byte) error {
	if len(dst) != SectorSize {
		return Bug("device: dst must be exactly one sector")
	}
	if sector >= d.sectors {
		return fmt.Errorf("%w: sector %d out of range (have %d)", ErrIO, sector, d.sectors)
	}
	if _, err := d.f.ReadAt(dst, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("%w: read sector %d: %v", ErrIO, sector, err)
	}
	return nil
}

func (d *FileDevice) WriteSector(sector uint32, src []byte) error {
	if len(src) != SectorSize {
		return Bug("device: src must be exactly one sector")
	}
	if sector >= d.sectors {
		return fmt.Errorf("%w: sector %d out of range (have %d)", ErrIO, sector, d.sectors)
	}
	if _, err := d.f.WriteAt(src, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("%w: write sector %d: %v", ErrIO, sector, err)
	}
	return nil
}

func (d *FileDevice) SectorCount() uint32 {
	return d.sectors
}

func (d *FileDevice) Close() error {
	if d.locked {
		unlockDeviceFile(d.f)
	}
	return d.f.Close()
}
