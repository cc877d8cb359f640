package fs

import (
	"context"
	"time"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
	"github.com/ajaxzhan/slowpokefs/internal/trace"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// Getattr returns the attributes of path without following a final symlink.
func (d *Dispatcher) Getattr(ctx context.Context, path string) (*backend.Attr, error) {
	var attr *backend.Attr
	err := d.run(OpGetattr, types.ClassRead, path, nil, func(real string) (err error) {
		attr, err = d.backend.Lstat(real)
		return err
	})
	return attr, err
}

// Fgetattr returns the attributes of an open handle.
func (d *Dispatcher) Fgetattr(ctx context.Context, fh Handle) (*backend.Attr, error) {
	var attr *backend.Attr
	err := d.runHandle(OpFgetattr, types.ClassRead, fh, false, false, nil, func(h *openHandle) (err error) {
		attr, err = h.file.Stat()
		return err
	})
	return attr, err
}

// Access checks mask (R_OK, W_OK, X_OK or F_OK) against path.
func (d *Dispatcher) Access(ctx context.Context, path string, mask uint32) error {
	return d.run(OpAccess, types.ClassRead, path, []any{trace.Octal(mask)}, func(real string) error {
		return d.backend.Access(real, mask)
	})
}

// Chmod sets the permission bits of path.
func (d *Dispatcher) Chmod(ctx context.Context, path string, mode uint32) error {
	return d.run(OpChmod, types.ClassWrite, path, []any{trace.Octal(mode)}, func(real string) error {
		return d.backend.Chmod(real, mode)
	})
}

// Chown changes the owner and group of path. -1 leaves a value unchanged.
func (d *Dispatcher) Chown(ctx context.Context, path string, uid, gid int) error {
	return d.run(OpChown, types.ClassWrite, path, []any{uid, gid}, func(real string) error {
		return d.backend.Lchown(real, uid, gid)
	})
}

// Truncate sets the size of the file at path.
func (d *Dispatcher) Truncate(ctx context.Context, path string, size int64) error {
	return d.run(OpTruncate, types.ClassWrite, path, []any{size}, func(real string) error {
		return d.backend.Truncate(real, size)
	})
}

// Utimens sets access and modification times. A nil time is left unchanged.
func (d *Dispatcher) Utimens(ctx context.Context, path string, atime, mtime *time.Time) error {
	return d.run(OpUtimens, types.ClassWrite, path, []any{formatTime(atime), formatTime(mtime)}, func(real string) error {
		return d.backend.Utimens(real, atime, mtime)
	})
}

// Statfs reports usage of the filesystem holding path.
func (d *Dispatcher) Statfs(ctx context.Context, path string) (*backend.StatFS, error) {
	var st *backend.StatFS
	err := d.run(OpStatfs, types.ClassRead, path, nil, func(real string) (err error) {
		st, err = d.backend.Statfs(real)
		return err
	})
	return st, err
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "omit"
	}
	return t.Format(time.RFC3339Nano)
}
