//go:build !linux && !darwin

package clockfs

import "os"

// lockDeviceFile is a no-op on platforms without flock support in
// golang.org/x/sys/unix; single-mount enforcement is then the caller's
// responsibility.
func lockDeviceFile(f *os.File) error {
	return nil
}

func unlockDeviceFile(f *os.File) {}
