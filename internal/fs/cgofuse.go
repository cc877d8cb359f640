//go:build cgofuse

package fs

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
)

// CgoFS serves Operations through the cgofuse path-based API. Results are
// returned as 0, a byte count, or a negated errno.
type CgoFS struct {
	fuse.FileSystemBase
	ops    Operations
	ctx    context.Context
	onInit func()
}

// NewCgoFS wraps ops for a cgofuse host.
func NewCgoFS(ops Operations) *CgoFS {
	return &CgoFS{ops: ops, ctx: context.Background()}
}

// Init is called by the host once the mount is live.
func (c *CgoFS) Init() {
	if c.onInit != nil {
		c.onInit()
	}
}

// MountCgo mounts ops at mountPoint with libfuse options and blocks until
// ctx is cancelled. ready, if not nil, is called once the mount is live.
func MountCgo(ctx context.Context, mountPoint string, ops Operations, options []string, ready func()) error {
	cfs := NewCgoFS(ops)
	cfs.onInit = ready
	host := fuse.NewFileSystemHost(cfs)
	done := make(chan bool, 1)
	go func() {
		done <- host.Mount(mountPoint, options)
	}()

	select {
	case ok := <-done:
		if !ok {
			return fmt.Errorf("mount %s failed", mountPoint)
		}
		return errors.New("filesystem unmounted externally")
	case <-ctx.Done():
		host.Unmount()
		<-done
		return ctx.Err()
	}
}

func (c *CgoFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	var (
		attr *backend.Attr
		err  error
	)
	if fh != ^uint64(0) {
		attr, err = c.ops.Fgetattr(c.ctx, Handle(fh))
	}
	// Directory handles carry no attributes of their own.
	if fh == ^uint64(0) || ToErrno(err) == syscall.EBADF {
		attr, err = c.ops.Getattr(c.ctx, path)
	}
	if err != nil {
		return Status(err)
	}
	fillStat(attr, stat)
	return 0
}

func (c *CgoFS) Access(path string, mask uint32) int {
	return Status(c.ops.Access(c.ctx, path, mask))
}

func (c *CgoFS) Opendir(path string) (int, uint64) {
	fh, err := c.ops.Opendir(c.ctx, path)
	if err != nil {
		return Status(err), ^uint64(0)
	}
	return 0, uint64(fh)
}

func (c *CgoFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	seq, err := c.ops.Readdir(c.ctx, Handle(fh))
	if err != nil {
		return Status(err)
	}
	for e, err := range seq {
		if err != nil {
			return Status(err)
		}
		if !fill(e.Name, &fuse.Stat_t{Ino: e.Ino, Mode: e.Mode}, 0) {
			break
		}
	}
	return 0
}

func (c *CgoFS) Releasedir(path string, fh uint64) int {
	return Status(c.ops.Releasedir(c.ctx, Handle(fh)))
}

func (c *CgoFS) Open(path string, flags int) (int, uint64) {
	fh, err := c.ops.Open(c.ctx, path, flags)
	if err != nil {
		return Status(err), ^uint64(0)
	}
	return 0, uint64(fh)
}

func (c *CgoFS) Create(path string, flags int, mode uint32) (int, uint64) {
	fh, err := c.ops.Create(c.ctx, path, flags, mode)
	if err != nil {
		return Status(err), ^uint64(0)
	}
	return 0, uint64(fh)
}

func (c *CgoFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	return StatusN(c.ops.Read(c.ctx, Handle(fh), buff, ofst))
}

func (c *CgoFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	return StatusN(c.ops.Write(c.ctx, Handle(fh), buff, ofst))
}

func (c *CgoFS) Flush(path string, fh uint64) int {
	return Status(c.ops.Flush(c.ctx, Handle(fh)))
}

func (c *CgoFS) Fsync(path string, datasync bool, fh uint64) int {
	return Status(c.ops.Fsync(c.ctx, Handle(fh), datasync))
}

func (c *CgoFS) Release(path string, fh uint64) int {
	return Status(c.ops.Release(c.ctx, Handle(fh)))
}

func (c *CgoFS) Mkdir(path string, mode uint32) int {
	return Status(c.ops.Mkdir(c.ctx, path, mode))
}

func (c *CgoFS) Rmdir(path string) int {
	return Status(c.ops.Rmdir(c.ctx, path))
}

func (c *CgoFS) Mknod(path string, mode uint32, dev uint64) int {
	return Status(c.ops.Mknod(c.ctx, path, mode, dev))
}

func (c *CgoFS) Readlink(path string) (int, string) {
	target, err := c.ops.Readlink(c.ctx, path, 0)
	if err != nil {
		return Status(err), ""
	}
	return 0, target
}

func (c *CgoFS) Unlink(path string) int {
	return Status(c.ops.Unlink(c.ctx, path))
}

func (c *CgoFS) Rename(oldpath, newpath string) int {
	return Status(c.ops.Rename(c.ctx, oldpath, newpath))
}

func (c *CgoFS) Truncate(path string, size int64, fh uint64) int {
	return Status(c.ops.Truncate(c.ctx, path, size))
}

func (c *CgoFS) Symlink(target, newpath string) int {
	return Status(c.ops.Symlink(c.ctx, target, newpath))
}

func (c *CgoFS) Link(oldpath, newpath string) int {
	return Status(c.ops.Link(c.ctx, oldpath, newpath))
}

func (c *CgoFS) Chmod(path string, mode uint32) int {
	return Status(c.ops.Chmod(c.ctx, path, mode))
}

func (c *CgoFS) Chown(path string, uid, gid uint32) int {
	return Status(c.ops.Chown(c.ctx, path, idArg(uid), idArg(gid)))
}

func (c *CgoFS) Utimens(path string, tmsp []fuse.Timespec) int {
	var atime, mtime *time.Time
	if len(tmsp) == 2 {
		atime, mtime = timeArg(tmsp[0]), timeArg(tmsp[1])
	}
	return Status(c.ops.Utimens(c.ctx, path, atime, mtime))
}

func (c *CgoFS) Statfs(path string, stat *fuse.Statfs_t) int {
	st, err := c.ops.Statfs(c.ctx, path)
	if err != nil {
		return Status(err)
	}
	stat.Bsize = uint64(st.Bsize)
	stat.Frsize = uint64(st.Frsize)
	stat.Blocks = st.Blocks
	stat.Bfree = st.Bfree
	stat.Bavail = st.Bavail
	stat.Files = st.Files
	stat.Ffree = st.Ffree
	stat.Favail = st.Ffree
	stat.Namemax = uint64(st.NameLen)
	return 0
}

// idArg maps the (uid_t)-1 "leave unchanged" value to -1.
func idArg(id uint32) int {
	if id == ^uint32(0) {
		return -1
	}
	return int(id)
}

func timeArg(ts fuse.Timespec) *time.Time {
	if ts.Nsec == unix.UTIME_OMIT {
		return nil
	}
	if ts.Nsec == unix.UTIME_NOW {
		now := time.Now()
		return &now
	}
	t := ts.Time()
	return &t
}

func fillStat(a *backend.Attr, st *fuse.Stat_t) {
	st.Dev = a.Dev
	st.Ino = a.Ino
	st.Mode = a.Mode
	st.Nlink = uint32(a.Nlink)
	st.Uid = a.Uid
	st.Gid = a.Gid
	st.Rdev = a.Rdev
	st.Size = a.Size
	st.Blksize = a.Blksize
	st.Blocks = a.Blocks
	st.Atim = fuse.NewTimespec(a.Atime)
	st.Mtim = fuse.NewTimespec(a.Mtime)
	st.Ctim = fuse.NewTimespec(a.Ctime)
}
