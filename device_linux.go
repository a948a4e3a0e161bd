package clockfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockDeviceFile takes a non-blocking exclusive flock on the device file so that a
// second Mount of the same volume fails fast instead of corrupting a live cache
// (spec.md §1 Non-goal: "no concurrent mounts"). Mirrors the teacher's GOOS split
// (inode_linux.go/inode_darwin.go) for platform-specific inode attribute filling.
func lockDeviceFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrMountLocked
		}
		return fmt.Errorf("%w: flock %s: %v", ErrIO, f.Name(), err)
	}
	return nil
}

func unlockDeviceFile(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
