package fs

import (
	"sync"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// Handle is the opaque token the kernel carries between open and release.
type Handle uint64

// openHandle is one entry of the handle table. Exactly one of file and dir is set.
type openHandle struct {
	path string // virtual path at open time
	file backend.File
	dir  backend.Dir

	mu sync.Mutex // serializes directory iteration
}

func (h *openHandle) isDir() bool { return h.dir != nil }

// handleTable maps tokens to open files and directories.
type handleTable struct {
	mu      sync.Mutex
	next    Handle
	max     int // 0 means unlimited
	entries map[Handle]*openHandle
}

func newHandleTable(limit int) *handleTable {
	return &handleTable{max: limit, entries: make(map[Handle]*openHandle)}
}

// add registers h and returns its token, which is never 0.
func (t *handleTable) add(h *openHandle) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.max > 0 && len(t.entries) >= t.max {
		return 0, types.ErrTooManyHandles
	}
	t.next++
	t.entries[t.next] = h
	return t.next, nil
}

func (t *handleTable) get(fh Handle) (*openHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[fh]
	return h, ok
}

// take removes fh from the table and returns its entry. Entries of the
// other kind are left in place.
func (t *handleTable) take(fh Handle, dir bool) (*openHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[fh]
	if !ok || h.isDir() != dir {
		return nil, false
	}
	delete(t.entries, fh)
	return h, true
}

func (t *handleTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// closeAll releases every remaining entry, as on unmount.
func (t *handleTable) closeAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[Handle]*openHandle)
	t.mu.Unlock()

	for _, h := range entries {
		if h.file != nil {
			h.file.Close()
		}
		if h.dir != nil {
			h.dir.Close()
		}
	}
}
