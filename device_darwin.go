package clockfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockDeviceFile mirrors device_linux.go using the same BSD flock semantics that
// golang.org/x/sys/unix exposes on darwin.
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
