package fs

import (
	"context"

	"github.com/ajaxzhan/slowpokefs/internal/trace"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// Mknod creates a filesystem node. dev is used for device nodes only.
func (d *Dispatcher) Mknod(ctx context.Context, path string, mode uint32, dev uint64) error {
	return d.run(OpMknod, types.ClassWrite, path, []any{trace.Octal(mode), dev}, func(real string) error {
		return d.backend.Mknod(real, mode, dev)
	})
}

// Readlink returns the target of the symbolic link at path. When capacity is
// positive the target is cut to capacity-1 bytes, leaving room for the NUL
// a C caller appends.
func (d *Dispatcher) Readlink(ctx context.Context, path string, capacity int) (string, error) {
	var target string
	err := d.run(OpReadlink, types.ClassRead, path, nil, func(real string) (err error) {
		target, err = d.backend.Readlink(real)
		return err
	})
	if err != nil {
		return "", err
	}
	if capacity > 0 && len(target) >= capacity {
		target = target[:capacity-1]
	}
	return target, nil
}

// Unlink removes a non-directory name.
func (d *Dispatcher) Unlink(ctx context.Context, path string) error {
	return d.run(OpUnlink, types.ClassWrite, path, nil, func(real string) error {
		return d.backend.Unlink(real)
	})
}

// Rename moves oldpath to newpath, replacing newpath if it exists.
func (d *Dispatcher) Rename(ctx context.Context, oldpath, newpath string) error {
	return d.run(OpRename, types.ClassWrite, oldpath, []any{newpath}, func(realOld string) error {
		realNew, err := d.resolver.Resolve(newpath)
		if err != nil {
			return err
		}
		return d.backend.Rename(realOld, realNew)
	})
}

// Symlink creates path as a symbolic link to target. The target is stored
// verbatim and never resolved.
func (d *Dispatcher) Symlink(ctx context.Context, target, path string) error {
	return d.run(OpSymlink, types.ClassWrite, path, []any{target}, func(real string) error {
		return d.backend.Symlink(target, real)
	})
}

// Link creates newpath as a hard link to oldpath.
func (d *Dispatcher) Link(ctx context.Context, oldpath, newpath string) error {
	return d.run(OpLink, types.ClassWrite, oldpath, []any{newpath}, func(realOld string) error {
		realNew, err := d.resolver.Resolve(newpath)
		if err != nil {
			return err
		}
		return d.backend.Link(realOld, realNew)
	})
}
