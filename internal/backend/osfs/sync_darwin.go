package osfs

import "golang.org/x/sys/unix"

// Darwin has no fdatasync(2).
func fdatasync(fd int) error {
	return unix.Fsync(fd)
}
