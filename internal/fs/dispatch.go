// Package fs implements the slowpokefs operation set and the FUSE hosts that
// serve it.
//
// Every operation runs the same pipeline: trace, delay, resolve, forward to
// the backend, translate the result.
package fs

import (
	"context"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
	"github.com/ajaxzhan/slowpokefs/internal/backend/osfs"
	"github.com/ajaxzhan/slowpokefs/internal/latency"
	"github.com/ajaxzhan/slowpokefs/internal/trace"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// Operation names used in traces and metrics.
const (
	OpGetattr    = "getattr"
	OpFgetattr   = "fgetattr"
	OpAccess     = "access"
	OpOpendir    = "opendir"
	OpReaddir    = "readdir"
	OpReleasedir = "releasedir"
	OpOpen       = "open"
	OpCreate     = "create"
	OpRead       = "read"
	OpWrite      = "write"
	OpFlush      = "flush"
	OpFsync      = "fsync"
	OpRelease    = "release"
	OpMkdir      = "mkdir"
	OpRmdir      = "rmdir"
	OpMknod      = "mknod"
	OpReadlink   = "readlink"
	OpUnlink     = "unlink"
	OpRename     = "rename"
	OpTruncate   = "truncate"
	OpSymlink    = "symlink"
	OpLink       = "link"
	OpChmod      = "chmod"
	OpChown      = "chown"
	OpUtimens    = "utimens"
	OpStatfs     = "statfs"
)

// AttrOps query and change attributes.
type AttrOps interface {
	Getattr(ctx context.Context, path string) (*backend.Attr, error)
	Fgetattr(ctx context.Context, fh Handle) (*backend.Attr, error)
	Access(ctx context.Context, path string, mask uint32) error
	Chmod(ctx context.Context, path string, mode uint32) error
	Chown(ctx context.Context, path string, uid, gid int) error
	Truncate(ctx context.Context, path string, size int64) error
	Utimens(ctx context.Context, path string, atime, mtime *time.Time) error
	Statfs(ctx context.Context, path string) (*backend.StatFS, error)
}

// DirOps open, list and change directories.
type DirOps interface {
	Opendir(ctx context.Context, path string) (Handle, error)
	Readdir(ctx context.Context, fh Handle) (iter.Seq2[backend.DirEntry, error], error)
	Releasedir(ctx context.Context, fh Handle) error
	Mkdir(ctx context.Context, path string, mode uint32) error
	Rmdir(ctx context.Context, path string) error
}

// DataOps move file contents through open handles.
type DataOps interface {
	Open(ctx context.Context, path string, flags int) (Handle, error)
	Create(ctx context.Context, path string, flags int, mode uint32) (Handle, error)
	Read(ctx context.Context, fh Handle, dest []byte, off int64) (int, error)
	Write(ctx context.Context, fh Handle, data []byte, off int64) (int, error)
	Flush(ctx context.Context, fh Handle) error
	Fsync(ctx context.Context, fh Handle, datasync bool) error
	Release(ctx context.Context, fh Handle) error
}

// NamespaceOps create, remove and rename names.
type NamespaceOps interface {
	Mknod(ctx context.Context, path string, mode uint32, dev uint64) error
	Readlink(ctx context.Context, path string, capacity int) (string, error)
	Unlink(ctx context.Context, path string) error
	Rename(ctx context.Context, oldpath, newpath string) error
	Symlink(ctx context.Context, target, path string) error
	Link(ctx context.Context, oldpath, newpath string) error
}

// Operations is the full operation set served to a FUSE host.
type Operations interface {
	AttrOps
	DirOps
	DataOps
	NamespaceOps
}

// Delayer injects latency before an operation.
type Delayer interface {
	Delay(class types.OpClass, path string) time.Duration
}

// Tracer emits one line per operation.
type Tracer interface {
	Trace(op string, args ...any)
}

// Recorder observes completed operations.
type Recorder interface {
	ObserveOperation(op string, class types.OpClass, injected, elapsed time.Duration, err error)
	SetOpenHandles(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, types.OpClass, time.Duration, time.Duration, error) {}
func (nopRecorder) SetOpenHandles(int)                                                          {}

// Options supplies the collaborators of a Dispatcher. Nil fields get defaults:
// the host filesystem, the configured latency range, stderr tracing when
// Debug is set, and no metrics.
type Options struct {
	Backend  backend.Backend
	Delayer  Delayer
	Tracer   Tracer
	Recorder Recorder
}

// Dispatcher implements Operations against a backend.
type Dispatcher struct {
	config   *types.MountConfig
	resolver *Resolver
	backend  backend.Backend
	delayer  Delayer
	tracer   Tracer
	recorder Recorder
	handles  *handleTable
}

var _ Operations = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher for config. The configuration is
// shared read-only and must not be modified afterwards.
func NewDispatcher(config *types.MountConfig, opts Options) (*Dispatcher, error) {
	if config == nil || config.RootDir == "" {
		return nil, types.ErrInvalidRootDir
	}

	d := &Dispatcher{
		config:   config,
		resolver: NewResolver(config.RootDir),
		backend:  opts.Backend,
		delayer:  opts.Delayer,
		tracer:   opts.Tracer,
		recorder: opts.Recorder,
		handles:  newHandleTable(config.MaxHandles),
	}
	if d.backend == nil {
		d.backend = osfs.New()
	}
	if d.delayer == nil {
		d.delayer = latency.New(config)
	}
	if d.tracer == nil {
		d.tracer = trace.New(config.Debug, os.Stderr)
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}
	return d, nil
}

// Config returns the mount configuration.
func (d *Dispatcher) Config() *types.MountConfig {
	return d.config
}

// OpenHandles returns the number of handles not yet released.
func (d *Dispatcher) OpenHandles() int {
	return d.handles.len()
}

// Close releases every handle still open.
func (d *Dispatcher) Close() {
	d.handles.closeAll()
	d.recorder.SetOpenHandles(0)
}

// run executes a path-based operation through the pipeline.
func (d *Dispatcher) run(op string, class types.OpClass, path string, args []any, fn func(real string) error) error {
	d.tracer.Trace(op, append([]any{path}, args...)...)
	injected := d.delayer.Delay(class, path)
	start := time.Now()

	real, err := d.resolver.Resolve(path)
	if err == nil {
		err = fn(real)
	}
	if err != nil {
		err = &types.OpError{Op: op, Path: path, Err: err}
	}
	d.observe(op, class, injected, start, err)
	return err
}

// runHandle executes a handle-based operation through the pipeline.
// A release removes the handle from the table before fn runs.
func (d *Dispatcher) runHandle(op string, class types.OpClass, fh Handle, dir, release bool, args []any, fn func(h *openHandle) error) error {
	var (
		h  *openHandle
		ok bool
	)
	if release {
		h, ok = d.handles.take(fh, dir)
	} else if h, ok = d.handles.get(fh); ok && h.isDir() != dir {
		ok = false
	}

	target := any(fmt.Sprintf("fh=%d", fh))
	path := ""
	if ok {
		path = h.path
		target = path
	}
	d.tracer.Trace(op, append([]any{target}, args...)...)
	injected := d.delayer.Delay(class, path)
	start := time.Now()

	var err error
	if !ok {
		err = &types.HandleError{Op: op, Handle: uint64(fh)}
	} else if err = fn(h); err != nil {
		err = &types.OpError{Op: op, Path: path, Err: err}
	}
	if release {
		d.recorder.SetOpenHandles(d.handles.len())
	}
	d.observe(op, class, injected, start, err)
	return err
}

func (d *Dispatcher) observe(op string, class types.OpClass, injected time.Duration, start time.Time, err error) {
	var result error
	if err != nil {
		result = ToErrno(err)
	}
	d.recorder.ObserveOperation(op, class, injected, time.Since(start), result)
}

// register stores an opened file or directory, closing it when the table is full.
func (d *Dispatcher) register(h *openHandle) (Handle, error) {
	fh, err := d.handles.add(h)
	if err != nil {
		if h.file != nil {
			h.file.Close()
		}
		if h.dir != nil {
			h.dir.Close()
		}
		return 0, err
	}
	d.recorder.SetOpenHandles(d.handles.len())
	return fh, nil
}
