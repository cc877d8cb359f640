package fs

import (
	"context"
	"io"
	"iter"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
	"github.com/ajaxzhan/slowpokefs/internal/trace"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

const readdirBatch = 64

// Opendir opens the directory at path for listing.
func (d *Dispatcher) Opendir(ctx context.Context, path string) (Handle, error) {
	var fh Handle
	err := d.run(OpOpendir, types.ClassRead, path, nil, func(real string) error {
		dir, err := d.backend.OpenDir(real)
		if err != nil {
			return err
		}
		fh, err = d.register(&openHandle{path: path, dir: dir})
		return err
	})
	return fh, err
}

// Readdir returns the entries of an open directory as a lazy sequence.
// The delay is applied once, when Readdir is called. Entries are pulled
// from the directory in batches while the sequence is consumed; a stream
// is not rewound, so listing again requires a new Opendir.
func (d *Dispatcher) Readdir(ctx context.Context, fh Handle) (iter.Seq2[backend.DirEntry, error], error) {
	var h *openHandle
	err := d.runHandle(OpReaddir, types.ClassRead, fh, true, false, nil, func(oh *openHandle) error {
		h = oh
		return nil
	})
	if err != nil {
		return nil, err
	}

	return func(yield func(backend.DirEntry, error) bool) {
		for {
			h.mu.Lock()
			ents, err := h.dir.ReadDir(readdirBatch)
			h.mu.Unlock()

			for _, e := range ents {
				if !yield(e, nil) {
					return
				}
			}
			if err == io.EOF || (err == nil && len(ents) == 0) {
				return
			}
			if err != nil {
				yield(backend.DirEntry{}, &types.OpError{Op: OpReaddir, Path: h.path, Err: err})
				return
			}
		}
	}, nil
}

// Releasedir closes a directory handle. The handle is removed from the
// table even when closing the underlying stream fails.
func (d *Dispatcher) Releasedir(ctx context.Context, fh Handle) error {
	return d.runHandle(OpReleasedir, types.ClassRead, fh, true, true, nil, func(h *openHandle) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.dir.Close()
	})
}

// Mkdir creates a directory.
func (d *Dispatcher) Mkdir(ctx context.Context, path string, mode uint32) error {
	return d.run(OpMkdir, types.ClassWrite, path, []any{trace.Octal(mode)}, func(real string) error {
		return d.backend.Mkdir(real, mode)
	})
}

// Rmdir removes an empty directory.
func (d *Dispatcher) Rmdir(ctx context.Context, path string) error {
	return d.run(OpRmdir, types.ClassWrite, path, nil, func(real string) error {
		return d.backend.Rmdir(real)
	})
}
