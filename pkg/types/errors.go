// Package types defines error types for slowpokefs.
package types

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidRootDir    = errors.New("invalid root directory")
	ErrInvalidMountPoint = errors.New("invalid mount point")
	ErrInvalidDelayRange = errors.New("invalid delay range")
	ErrInvalidPattern    = errors.New("invalid delay rule pattern")
	ErrPathTooLong       = errors.New("path too long")
	ErrPathEscapesRoot   = errors.New("path escapes root directory")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrTooManyHandles    = errors.New("too many open handles")
	ErrNotMounted        = errors.New("filesystem not mounted")
)

// OpError records a failed filesystem operation with its virtual path.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// HandleError represents an operation on an unknown or released handle.
type HandleError struct {
	Op     string
	Handle uint64
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("%s: handle %d: %v", e.Op, e.Handle, ErrInvalidHandle)
}

func (e *HandleError) Unwrap() error {
	return ErrInvalidHandle
}
