package fs

import (
	"context"
	"syscall"

	"github.com/ajaxzhan/slowpokefs/internal/trace"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// passFlags are the open(2) flags forwarded to the real file. Creation and
// kernel-internal bits are dropped.
const passFlags = syscall.O_ACCMODE | syscall.O_APPEND | syscall.O_TRUNC |
	syscall.O_SYNC | syscall.O_NONBLOCK | syscall.O_NOFOLLOW

func openFlags(flags int) int {
	return flags & passFlags
}

// Open opens the file at path and returns a handle for later reads and writes.
func (d *Dispatcher) Open(ctx context.Context, path string, flags int) (Handle, error) {
	var fh Handle
	err := d.run(OpOpen, types.ClassRead, path, []any{trace.Octal(flags)}, func(real string) error {
		f, err := d.backend.Open(real, openFlags(flags))
		if err != nil {
			return err
		}
		fh, err = d.register(&openHandle{path: path, file: f})
		return err
	})
	return fh, err
}

// Create creates and opens a file with the caller's flags.
func (d *Dispatcher) Create(ctx context.Context, path string, flags int, mode uint32) (Handle, error) {
	var fh Handle
	err := d.run(OpCreate, types.ClassWrite, path, []any{trace.Octal(flags), trace.Octal(mode)}, func(real string) error {
		f, err := d.backend.Create(real, openFlags(flags)|flags&syscall.O_EXCL, mode)
		if err != nil {
			return err
		}
		fh, err = d.register(&openHandle{path: path, file: f})
		return err
	})
	return fh, err
}

// Read reads up to len(dest) bytes at off. Reading at or past end-of-file
// returns 0 and no error.
func (d *Dispatcher) Read(ctx context.Context, fh Handle, dest []byte, off int64) (int, error) {
	var n int
	err := d.runHandle(OpRead, types.ClassRead, fh, false, false, []any{len(dest), off}, func(h *openHandle) (err error) {
		n, err = h.file.ReadAt(dest, off)
		return err
	})
	return n, err
}

// Write writes data at off and returns the number of bytes written.
func (d *Dispatcher) Write(ctx context.Context, fh Handle, data []byte, off int64) (int, error) {
	var n int
	err := d.runHandle(OpWrite, types.ClassWrite, fh, false, false, []any{len(data), off}, func(h *openHandle) (err error) {
		n, err = h.file.WriteAt(data, off)
		return err
	})
	return n, err
}

// Flush is called for every close of a descriptor on the handle.
func (d *Dispatcher) Flush(ctx context.Context, fh Handle) error {
	return d.runHandle(OpFlush, types.ClassWrite, fh, false, false, nil, func(h *openHandle) error {
		return h.file.Flush()
	})
}

// Fsync commits the file to stable storage.
func (d *Dispatcher) Fsync(ctx context.Context, fh Handle, datasync bool) error {
	return d.runHandle(OpFsync, types.ClassWrite, fh, false, false, []any{datasync}, func(h *openHandle) error {
		return h.file.Sync(datasync)
	})
}

// Release closes a file handle. The handle is gone afterwards even when
// closing the real descriptor fails.
func (d *Dispatcher) Release(ctx context.Context, fh Handle) error {
	return d.runHandle(OpRelease, types.ClassRead, fh, false, true, nil, func(h *openHandle) error {
		return h.file.Close()
	})
}
