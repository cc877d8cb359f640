package fs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// SlowFSConfig holds the session options of a mount.
type SlowFSConfig struct {
	MountPoint     string
	FsName         string
	AllowOther     bool
	SingleThreaded bool
	Debug          bool // log FUSE protocol traffic
	EntryTimeout   time.Duration
	AttrTimeout    time.Duration
}

// SlowFS serves Operations to the kernel through go-fuse.
type SlowFS struct {
	config  *SlowFSConfig
	ops     Operations
	id      string
	server  *fuse.Server
	mounted atomic.Bool
	ready   chan struct{}
	mu      sync.Mutex
}

// NewSlowFS creates a mount for ops. Nothing is mounted until Mount is called.
func NewSlowFS(config *SlowFSConfig, ops Operations) (*SlowFS, error) {
	if config == nil || config.MountPoint == "" {
		return nil, types.ErrInvalidMountPoint
	}
	if ops == nil {
		return nil, errors.New("slowfs: nil operations")
	}
	if config.FsName == "" {
		config.FsName = "slowpokefs"
	}
	return &SlowFS{
		config: config,
		ops:    ops,
		id:     uuid.NewString(),
		ready:  make(chan struct{}),
	}, nil
}

// ID returns the identifier of this mount, used to correlate its log lines.
func (s *SlowFS) ID() string {
	return s.id
}

// Mount mounts the filesystem. It blocks until the context is cancelled
// and then unmounts.
func (s *SlowFS) Mount(ctx context.Context) error {
	root := &slowNode{ops: s.ops}

	entryTimeout := s.config.EntryTimeout
	attrTimeout := s.config.AttrTimeout
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther:     s.config.AllowOther,
			FsName:         s.config.FsName,
			Name:           "slowpokefs",
			SingleThreaded: s.config.SingleThreaded,
			Debug:          s.config.Debug,
		},
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
	}

	server, err := fs.Mount(s.config.MountPoint, root, opts)
	if err != nil {
		return fmt.Errorf("mount %s: %w", s.config.MountPoint, err)
	}

	s.mu.Lock()
	s.server = server
	s.mounted.Store(true)
	close(s.ready)
	s.mu.Unlock()

	<-ctx.Done()

	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", s.config.MountPoint, err)
	}
	s.mounted.Store(false)

	return ctx.Err()
}

// Ready is closed once the kernel has accepted the mount.
func (s *SlowFS) Ready() <-chan struct{} {
	return s.ready
}

// IsMounted returns true if the filesystem is currently mounted.
func (s *SlowFS) IsMounted() bool {
	return s.mounted.Load()
}

// slowNode is any inode of the mount; its identity is its virtual path.
type slowNode struct {
	fs.Inode
	ops Operations
}

var _ = (fs.NodeGetattrer)((*slowNode)(nil))
var _ = (fs.NodeSetattrer)((*slowNode)(nil))
var _ = (fs.NodeAccesser)((*slowNode)(nil))
var _ = (fs.NodeLookuper)((*slowNode)(nil))
var _ = (fs.NodeReaddirer)((*slowNode)(nil))
var _ = (fs.NodeMkdirer)((*slowNode)(nil))
var _ = (fs.NodeMknoder)((*slowNode)(nil))
var _ = (fs.NodeRmdirer)((*slowNode)(nil))
var _ = (fs.NodeUnlinker)((*slowNode)(nil))
var _ = (fs.NodeRenamer)((*slowNode)(nil))
var _ = (fs.NodeSymlinker)((*slowNode)(nil))
var _ = (fs.NodeReadlinker)((*slowNode)(nil))
var _ = (fs.NodeLinker)((*slowNode)(nil))
var _ = (fs.NodeCreater)((*slowNode)(nil))
var _ = (fs.NodeOpener)((*slowNode)(nil))
var _ = (fs.NodeStatfser)((*slowNode)(nil))

func virtualPath(in *fs.Inode) string {
	return "/" + in.Path(nil)
}

func (n *slowNode) path() string {
	return virtualPath(n.EmbeddedInode())
}

func (n *slowNode) child(name string) string {
	p := n.path()
	if p == "/" {
		return p + name
	}
	return p + "/" + name
}

// entry looks p up and attaches the result below n.
func (n *slowNode) entry(ctx context.Context, p string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, err := n.ops.Getattr(ctx, p)
	if err != nil {
		return nil, ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return n.newChild(ctx, attr), fs.OK
}

func (n *slowNode) newChild(ctx context.Context, attr *backend.Attr) *fs.Inode {
	return n.NewInode(ctx, &slowNode{ops: n.ops}, fs.StableAttr{Mode: attr.Type(), Ino: attr.Ino})
}

// Getattr implements fs.NodeGetattrer.
func (n *slowNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if sf, ok := f.(*slowFile); ok {
		return sf.Getattr(ctx, out)
	}
	attr, err := n.ops.Getattr(ctx, n.path())
	if err != nil {
		return ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return fs.OK
}

// Setattr implements fs.NodeSetattrer.
func (n *slowNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := n.path()

	if size, ok := in.GetSize(); ok {
		if err := n.ops.Truncate(ctx, p, int64(size)); err != nil {
			return ToErrno(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.ops.Chmod(ctx, p, mode); err != nil {
			return ToErrno(err)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		u, g := -1, -1
		if uok {
			u = int(uid)
		}
		if gok {
			g = int(gid)
		}
		if err := n.ops.Chown(ctx, p, u, g); err != nil {
			return ToErrno(err)
		}
	}

	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		var ap, mp *time.Time
		if aok {
			ap = &atime
		}
		if mok {
			mp = &mtime
		}
		if err := n.ops.Utimens(ctx, p, ap, mp); err != nil {
			return ToErrno(err)
		}
	}

	return n.Getattr(ctx, f, out)
}

// Access implements fs.NodeAccesser.
func (n *slowNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	return ToErrno(n.ops.Access(ctx, n.path(), mask))
}

// Lookup implements fs.NodeLookuper.
func (n *slowNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return n.entry(ctx, n.child(name), out)
}

// Readdir implements fs.NodeReaddirer.
func (n *slowNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	fh, err := n.ops.Opendir(ctx, n.path())
	if err != nil {
		return nil, ToErrno(err)
	}
	seq, err := n.ops.Readdir(ctx, fh)
	if err != nil {
		n.ops.Releasedir(ctx, fh)
		return nil, ToErrno(err)
	}
	return newDirStream(ctx, n.ops, fh, seq), fs.OK
}

// Mkdir implements fs.NodeMkdirer.
func (n *slowNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.ops.Mkdir(ctx, p, mode); err != nil {
		return nil, ToErrno(err)
	}
	return n.entry(ctx, p, out)
}

// Mknod implements fs.NodeMknoder.
func (n *slowNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.ops.Mknod(ctx, p, mode, uint64(dev)); err != nil {
		return nil, ToErrno(err)
	}
	return n.entry(ctx, p, out)
}

// Rmdir implements fs.NodeRmdirer.
func (n *slowNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return ToErrno(n.ops.Rmdir(ctx, n.child(name)))
}

// Unlink implements fs.NodeUnlinker.
func (n *slowNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return ToErrno(n.ops.Unlink(ctx, n.child(name)))
}

// Rename implements fs.NodeRenamer. RENAME_NOREPLACE and RENAME_EXCHANGE
// are refused so callers fall back to a plain rename.
func (n *slowNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	dst := virtualPath(newParent.EmbeddedInode())
	if dst == "/" {
		dst += newName
	} else {
		dst += "/" + newName
	}
	return ToErrno(n.ops.Rename(ctx, n.child(name), dst))
}

// Symlink implements fs.NodeSymlinker.
func (n *slowNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.ops.Symlink(ctx, target, p); err != nil {
		return nil, ToErrno(err)
	}
	return n.entry(ctx, p, out)
}

// Readlink implements fs.NodeReadlinker.
func (n *slowNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.ops.Readlink(ctx, n.path(), 0)
	if err != nil {
		return nil, ToErrno(err)
	}
	return []byte(target), fs.OK
}

// Link implements fs.NodeLinker.
func (n *slowNode) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.ops.Link(ctx, virtualPath(target.EmbeddedInode()), p); err != nil {
		return nil, ToErrno(err)
	}
	return n.entry(ctx, p, out)
}

// Create implements fs.NodeCreater.
func (n *slowNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	fh, err := n.ops.Create(ctx, n.child(name), int(flags), mode)
	if err != nil {
		return nil, nil, 0, ToErrno(err)
	}
	attr, err := n.ops.Fgetattr(ctx, fh)
	if err != nil {
		n.ops.Release(ctx, fh)
		return nil, nil, 0, ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return n.newChild(ctx, attr), &slowFile{ops: n.ops, fh: fh}, 0, fs.OK
}

// Open implements fs.NodeOpener.
func (n *slowNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	fh, err := n.ops.Open(ctx, n.path(), int(flags))
	if err != nil {
		return nil, 0, ToErrno(err)
	}
	return &slowFile{ops: n.ops, fh: fh}, 0, fs.OK
}

// Statfs implements fs.NodeStatfser.
func (n *slowNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st, err := n.ops.Statfs(ctx, n.path())
	if err != nil {
		return ToErrno(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = st.Bsize
	out.Frsize = st.Frsize
	out.NameLen = st.NameLen
	return fs.OK
}

// slowFile is the go-fuse view of a dispatcher file handle.
type slowFile struct {
	ops Operations
	fh  Handle
}

var _ = (fs.FileReader)((*slowFile)(nil))
var _ = (fs.FileWriter)((*slowFile)(nil))
var _ = (fs.FileFlusher)((*slowFile)(nil))
var _ = (fs.FileFsyncer)((*slowFile)(nil))
var _ = (fs.FileReleaser)((*slowFile)(nil))
var _ = (fs.FileGetattrer)((*slowFile)(nil))

// Read implements fs.FileReader.
func (f *slowFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := f.ops.Read(ctx, f.fh, dest, off)
	if err != nil {
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

// Write implements fs.FileWriter.
func (f *slowFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.ops.Write(ctx, f.fh, data, off)
	if err != nil {
		return 0, ToErrno(err)
	}
	return uint32(n), fs.OK
}

// Flush implements fs.FileFlusher.
func (f *slowFile) Flush(ctx context.Context) syscall.Errno {
	return ToErrno(f.ops.Flush(ctx, f.fh))
}

// Fsync implements fs.FileFsyncer.
func (f *slowFile) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	const fdatasync = 1
	return ToErrno(f.ops.Fsync(ctx, f.fh, flags&fdatasync != 0))
}

// Release implements fs.FileReleaser.
func (f *slowFile) Release(ctx context.Context) syscall.Errno {
	return ToErrno(f.ops.Release(ctx, f.fh))
}

// Getattr implements fs.FileGetattrer.
func (f *slowFile) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	attr, err := f.ops.Fgetattr(ctx, f.fh)
	if err != nil {
		return ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return fs.OK
}

// dirStream adapts a lazy entry sequence to fs.DirStream. Closing the
// stream releases the directory handle.
type dirStream struct {
	ctx  context.Context
	ops  Operations
	fh   Handle
	next func() (backend.DirEntry, error, bool)
	stop func()

	cur     backend.DirEntry
	curErr  error
	pending bool
}

func newDirStream(ctx context.Context, ops Operations, fh Handle, seq iter.Seq2[backend.DirEntry, error]) *dirStream {
	next, stop := iter.Pull2(seq)
	return &dirStream{ctx: ctx, ops: ops, fh: fh, next: next, stop: stop}
}

func (ds *dirStream) HasNext() bool {
	if ds.pending {
		return true
	}
	e, err, ok := ds.next()
	if !ok {
		return false
	}
	ds.cur, ds.curErr, ds.pending = e, err, true
	return true
}

func (ds *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if !ds.HasNext() {
		return fuse.DirEntry{}, syscall.EIO
	}
	ds.pending = false
	if ds.curErr != nil {
		return fuse.DirEntry{}, ToErrno(ds.curErr)
	}
	return fuse.DirEntry{Name: ds.cur.Name, Mode: ds.cur.Mode, Ino: ds.cur.Ino}, fs.OK
}

func (ds *dirStream) Close() {
	ds.stop()
	ds.ops.Releasedir(ds.ctx, ds.fh)
}

func fillAttr(a *backend.Attr, out *fuse.Attr) {
	out.Ino = a.Ino
	out.Size = uint64(a.Size)
	out.Blocks = uint64(a.Blocks)
	out.Mode = a.Mode
	out.Nlink = uint32(a.Nlink)
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.Rdev = uint32(a.Rdev)
	out.Blksize = uint32(a.Blksize)
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
}
