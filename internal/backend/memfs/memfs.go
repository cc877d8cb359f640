// Package memfs implements backend.Backend as an in-memory tree.
//
// Nodes are kept in a B-tree keyed by their full path so that a directory
// listing is a single ordered range scan. Intermediate path components are
// matched literally; only the final component of Open, Truncate and Chmod
// follows symbolic links.
package memfs

import (
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tidwall/btree"
	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
)

const maxSymlinks = 8

type node struct {
	attr   backend.Attr
	data   []byte
	target string
}

func (n *node) isDir() bool { return n.attr.IsDir() }

func (n *node) stat() *backend.Attr {
	a := n.attr
	if a.Type() == syscall.S_IFREG {
		a.Size = int64(len(n.data))
		a.Blocks = (a.Size + 511) / 512
	}
	return &a
}

// FS is an in-memory filesystem rooted at a fixed path.
type FS struct {
	mu   sync.RWMutex
	root string
	tree *btree.Map[string, *node]
	ino  uint64
	uid  uint32
	gid  uint32
	now  func() time.Time
}

var _ backend.Backend = (*FS)(nil)

// New creates an empty filesystem whose root directory is root.
func New(root string) *FS {
	f := &FS{
		root: path.Clean(root),
		tree: btree.NewMap[string, *node](0),
		uid:  uint32(os.Getuid()),
		gid:  uint32(os.Getgid()),
		now:  time.Now,
	}
	f.tree.Set(f.root, f.newNode(syscall.S_IFDIR|0755))
	return f
}

// Root returns the path of the root directory.
func (f *FS) Root() string {
	return f.root
}

// Len returns the number of nodes, the root included.
func (f *FS) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tree.Len()
}

func (f *FS) newNode(mode uint32) *node {
	f.ino++
	now := f.now()
	n := &node{attr: backend.Attr{
		Ino:     f.ino,
		Mode:    mode,
		Nlink:   1,
		Uid:     f.uid,
		Gid:     f.gid,
		Blksize: 4096,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
	}}
	if mode&syscall.S_IFMT == syscall.S_IFDIR {
		n.attr.Nlink = 2
	}
	return n
}

func fail(op, p string, errno syscall.Errno) error {
	return &os.PathError{Op: op, Path: p, Err: errno}
}

func (f *FS) get(p string) (*node, bool) {
	return f.tree.Get(p)
}

// follow resolves symbolic links in the final component of p.
func (f *FS) follow(p string) (string, *node, syscall.Errno) {
	for range maxSymlinks {
		n, ok := f.get(p)
		if !ok {
			return p, nil, syscall.ENOENT
		}
		if n.attr.Type() != syscall.S_IFLNK {
			return p, n, 0
		}
		target := n.target
		if !path.IsAbs(target) {
			target = path.Join(path.Dir(p), target)
		}
		p = path.Clean(target)
	}
	return p, nil, syscall.ELOOP
}

// checkParent verifies that the parent of p exists and is a directory.
func (f *FS) checkParent(p string) syscall.Errno {
	if p == f.root {
		return syscall.EEXIST
	}
	parent, ok := f.get(path.Dir(p))
	if !ok {
		return syscall.ENOENT
	}
	if !parent.isDir() {
		return syscall.ENOTDIR
	}
	return 0
}

func childPrefix(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// children returns the direct children of dir in name order.
func (f *FS) children(dir string) []string {
	prefix := childPrefix(dir)
	var names []string
	f.tree.Ascend(prefix, func(key string, _ *node) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		rest := key[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
		return true
	})
	return names
}

// subtree returns p and every key below it.
func (f *FS) subtree(p string) []string {
	keys := []string{p}
	prefix := childPrefix(p)
	f.tree.Ascend(prefix, func(key string, _ *node) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		keys = append(keys, key)
		return true
	})
	return keys
}

func (f *FS) Lstat(p string) (*backend.Attr, error) {
	p = path.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.get(p)
	if !ok {
		return nil, fail("lstat", p, syscall.ENOENT)
	}
	return n.stat(), nil
}

func (f *FS) Access(p string, mask uint32) error {
	p = path.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, n, errno := f.follow(p)
	if errno != 0 {
		return fail("access", p, errno)
	}
	perm := n.attr.Mode
	if mask&unix.R_OK != 0 && perm&0444 == 0 ||
		mask&unix.W_OK != 0 && perm&0222 == 0 ||
		mask&unix.X_OK != 0 && perm&0111 == 0 {
		return fail("access", p, syscall.EACCES)
	}
	return nil
}

func (f *FS) Open(p string, flags int) (backend.File, error) {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, n, errno := f.follow(p)
	if errno != 0 {
		return nil, fail("open", p, errno)
	}
	return f.openNode("open", p, n, flags)
}

func (f *FS) openNode(op, p string, n *node, flags int) (backend.File, error) {
	acc := flags & syscall.O_ACCMODE
	if n.isDir() && acc != syscall.O_RDONLY {
		return nil, fail(op, p, syscall.EISDIR)
	}
	if flags&syscall.O_TRUNC != 0 && acc != syscall.O_RDONLY {
		n.data = n.data[:0]
		n.attr.Mtime = f.now()
	}
	return &file{fs: f, n: n, path: p, flags: flags}, nil
}

func (f *FS) Create(p string, flags int, mode uint32) (backend.File, error) {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.get(p); ok {
		if flags&syscall.O_EXCL != 0 {
			return nil, fail("create", p, syscall.EEXIST)
		}
		return f.openNode("create", p, n, flags)
	}
	if errno := f.checkParent(p); errno != 0 {
		return nil, fail("create", p, errno)
	}
	n := f.newNode(syscall.S_IFREG | mode&07777)
	f.tree.Set(p, n)
	return &file{fs: f, n: n, path: p, flags: flags}, nil
}

func (f *FS) OpenDir(p string) (backend.Dir, error) {
	p = path.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	rp, n, errno := f.follow(p)
	if errno != 0 {
		return nil, fail("opendir", p, errno)
	}
	if !n.isDir() {
		return nil, fail("opendir", p, syscall.ENOTDIR)
	}
	names := f.children(rp)
	entries := make([]backend.DirEntry, 0, len(names))
	for _, name := range names {
		child, _ := f.get(childPrefix(rp) + name)
		entries = append(entries, backend.DirEntry{
			Name: name,
			Ino:  child.attr.Ino,
			Mode: child.attr.Type(),
		})
	}
	return &dir{entries: entries}, nil
}

func (f *FS) Mkdir(p string, mode uint32) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.get(p); ok {
		return fail("mkdir", p, syscall.EEXIST)
	}
	if errno := f.checkParent(p); errno != 0 {
		return fail("mkdir", p, errno)
	}
	f.tree.Set(p, f.newNode(syscall.S_IFDIR|mode&07777))
	return nil
}

func (f *FS) Rmdir(p string) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.get(p)
	switch {
	case !ok:
		return fail("rmdir", p, syscall.ENOENT)
	case !n.isDir():
		return fail("rmdir", p, syscall.ENOTDIR)
	case p == f.root:
		return fail("rmdir", p, syscall.EBUSY)
	case len(f.children(p)) > 0:
		return fail("rmdir", p, syscall.ENOTEMPTY)
	}
	f.tree.Delete(p)
	return nil
}

func (f *FS) Mknod(p string, mode uint32, dev uint64) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.get(p); ok {
		return fail("mknod", p, syscall.EEXIST)
	}
	if errno := f.checkParent(p); errno != 0 {
		return fail("mknod", p, errno)
	}
	if mode&syscall.S_IFMT == 0 {
		mode |= syscall.S_IFREG
	}
	n := f.newNode(mode)
	n.attr.Rdev = dev
	f.tree.Set(p, n)
	return nil
}

func (f *FS) Readlink(p string) (string, error) {
	p = path.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.get(p)
	if !ok {
		return "", fail("readlink", p, syscall.ENOENT)
	}
	if n.attr.Type() != syscall.S_IFLNK {
		return "", fail("readlink", p, syscall.EINVAL)
	}
	return n.target, nil
}

func (f *FS) Unlink(p string) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.get(p)
	if !ok {
		return fail("unlink", p, syscall.ENOENT)
	}
	if n.isDir() {
		return fail("unlink", p, syscall.EISDIR)
	}
	f.tree.Delete(p)
	n.attr.Nlink--
	n.attr.Ctime = f.now()
	return nil
}

func (f *FS) Rename(oldpath, newpath string) error {
	oldpath, newpath = path.Clean(oldpath), path.Clean(newpath)
	f.mu.Lock()
	defer f.mu.Unlock()

	linkErr := func(errno syscall.Errno) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errno}
	}

	src, ok := f.get(oldpath)
	if !ok {
		return linkErr(syscall.ENOENT)
	}
	if oldpath == f.root || newpath == f.root {
		return linkErr(syscall.EBUSY)
	}
	if errno := f.checkParent(newpath); errno != 0 {
		return linkErr(errno)
	}
	if oldpath == newpath {
		return nil
	}
	if strings.HasPrefix(newpath, childPrefix(oldpath)) {
		return linkErr(syscall.EINVAL)
	}
	if dst, ok := f.get(newpath); ok {
		switch {
		case src.isDir() && !dst.isDir():
			return linkErr(syscall.ENOTDIR)
		case !src.isDir() && dst.isDir():
			return linkErr(syscall.EISDIR)
		case dst.isDir() && len(f.children(newpath)) > 0:
			return linkErr(syscall.ENOTEMPTY)
		}
		f.tree.Delete(newpath)
		dst.attr.Nlink--
	}

	for _, key := range f.subtree(oldpath) {
		n, _ := f.tree.Delete(key)
		f.tree.Set(newpath+strings.TrimPrefix(key, oldpath), n)
	}
	src.attr.Ctime = f.now()
	return nil
}

func (f *FS) Truncate(p string, size int64) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, n, errno := f.follow(p)
	if errno != 0 {
		return fail("truncate", p, errno)
	}
	if n.isDir() {
		return fail("truncate", p, syscall.EISDIR)
	}
	if size < 0 {
		return fail("truncate", p, syscall.EINVAL)
	}
	n.resize(size)
	n.attr.Mtime = f.now()
	return nil
}

func (n *node) resize(size int64) {
	if size <= int64(len(n.data)) {
		n.data = n.data[:size]
		return
	}
	n.data = append(n.data, make([]byte, size-int64(len(n.data)))...)
}

func (f *FS) Symlink(target, p string) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.get(p); ok {
		return &os.LinkError{Op: "symlink", Old: target, New: p, Err: syscall.EEXIST}
	}
	if errno := f.checkParent(p); errno != 0 {
		return &os.LinkError{Op: "symlink", Old: target, New: p, Err: errno}
	}
	n := f.newNode(syscall.S_IFLNK | 0777)
	n.target = target
	n.attr.Size = int64(len(target))
	f.tree.Set(p, n)
	return nil
}

func (f *FS) Link(oldpath, newpath string) error {
	oldpath, newpath = path.Clean(oldpath), path.Clean(newpath)
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.get(oldpath)
	if !ok {
		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: syscall.ENOENT}
	}
	if src.isDir() {
		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: syscall.EPERM}
	}
	if _, ok := f.get(newpath); ok {
		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: syscall.EEXIST}
	}
	if errno := f.checkParent(newpath); errno != 0 {
		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: errno}
	}
	src.attr.Nlink++
	src.attr.Ctime = f.now()
	f.tree.Set(newpath, src)
	return nil
}

func (f *FS) Chmod(p string, mode uint32) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, n, errno := f.follow(p)
	if errno != 0 {
		return fail("chmod", p, errno)
	}
	n.attr.Mode = n.attr.Type() | mode&07777
	n.attr.Ctime = f.now()
	return nil
}

func (f *FS) Lchown(p string, uid, gid int) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.get(p)
	if !ok {
		return fail("lchown", p, syscall.ENOENT)
	}
	if uid != -1 {
		n.attr.Uid = uint32(uid)
	}
	if gid != -1 {
		n.attr.Gid = uint32(gid)
	}
	n.attr.Ctime = f.now()
	return nil
}

func (f *FS) Utimens(p string, atime, mtime *time.Time) error {
	p = path.Clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.get(p)
	if !ok {
		return fail("utimens", p, syscall.ENOENT)
	}
	if atime != nil {
		n.attr.Atime = *atime
	}
	if mtime != nil {
		n.attr.Mtime = *mtime
	}
	n.attr.Ctime = f.now()
	return nil
}

func (f *FS) Statfs(p string) (*backend.StatFS, error) {
	p = path.Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.get(p); !ok {
		return nil, fail("statfs", p, syscall.ENOENT)
	}
	const blocks = 1 << 20
	used := uint64(f.tree.Len())
	return &backend.StatFS{
		Bsize:   4096,
		Frsize:  4096,
		Blocks:  blocks,
		Bfree:   blocks - used,
		Bavail:  blocks - used,
		Files:   blocks,
		Ffree:   blocks - used,
		NameLen: 255,
	}, nil
}

// file is an open handle on a node. It stays usable after the node is unlinked.
type file struct {
	fs     *FS
	n      *node
	path   string
	flags  int
	closed bool
}

func (h *file) ReadAt(p []byte, off int64) (int, error) {
	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()
	if h.closed || h.flags&syscall.O_ACCMODE == syscall.O_WRONLY {
		return 0, fail("pread", h.path, syscall.EBADF)
	}
	if h.n.isDir() {
		return 0, fail("pread", h.path, syscall.EISDIR)
	}
	if off < 0 {
		return 0, fail("pread", h.path, syscall.EINVAL)
	}
	if off >= int64(len(h.n.data)) {
		return 0, nil
	}
	return copy(p, h.n.data[off:]), nil
}

func (h *file) WriteAt(p []byte, off int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed || h.flags&syscall.O_ACCMODE == syscall.O_RDONLY {
		return 0, fail("pwrite", h.path, syscall.EBADF)
	}
	if off < 0 {
		return 0, fail("pwrite", h.path, syscall.EINVAL)
	}
	if h.flags&syscall.O_APPEND != 0 {
		off = int64(len(h.n.data))
	}
	if end := off + int64(len(p)); end > int64(len(h.n.data)) {
		h.n.resize(end)
	}
	copy(h.n.data[off:], p)
	h.n.attr.Mtime = h.fs.now()
	return len(p), nil
}

func (h *file) Stat() (*backend.Attr, error) {
	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()
	if h.closed {
		return nil, fail("fstat", h.path, syscall.EBADF)
	}
	return h.n.stat(), nil
}

func (h *file) Flush() error { return nil }

func (h *file) Sync(bool) error { return nil }

func (h *file) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return fail("close", h.path, syscall.EBADF)
	}
	h.closed = true
	return nil
}

type dir struct {
	entries []backend.DirEntry
}

func (d *dir) ReadDir(n int) ([]backend.DirEntry, error) {
	if n <= 0 {
		out := d.entries
		d.entries = nil
		return out, nil
	}
	if len(d.entries) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(d.entries))
	out := d.entries[:n]
	d.entries = d.entries[n:]
	return out, nil
}

func (d *dir) Close() error { return nil }
