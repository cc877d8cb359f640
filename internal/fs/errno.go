package fs

import (
	"errors"
	"os"
	"syscall"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// ToErrno converts an error into the errno reported to the kernel.
// Native codes carried by the error are passed through unchanged.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch {
	case errors.Is(err, types.ErrPathTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, types.ErrPathEscapesRoot):
		return syscall.EACCES
	case errors.Is(err, types.ErrInvalidHandle):
		return syscall.EBADF
	case errors.Is(err, types.ErrTooManyHandles):
		return syscall.EMFILE
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, os.ErrExist):
		return syscall.EEXIST
	}
	return syscall.EIO
}

// Status returns 0 on success or the negated errno, the convention of
// path-based FUSE hosts.
func Status(err error) int {
	return -int(ToErrno(err))
}

// StatusN returns n on success or the negated errno.
func StatusN(n int, err error) int {
	if err != nil {
		return Status(err)
	}
	return n
}
