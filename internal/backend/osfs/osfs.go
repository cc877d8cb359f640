// Package osfs implements backend.Backend on top of the host filesystem.
package osfs

import (
	"io"
	"os"
	"syscall"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
)

// FS forwards every primitive to the matching system call.
type FS struct{}

// New returns a host filesystem backend.
func New() *FS {
	return &FS{}
}

var _ backend.Backend = (*FS)(nil)

func pathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: path, Err: err}
}

// ignoringEINTR retries fn while the runtime interrupts the call.
func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

func (f *FS) Lstat(path string) (*backend.Attr, error) {
	var st unix.Stat_t
	if err := ignoringEINTR(func() error { return unix.Lstat(path, &st) }); err != nil {
		return nil, pathErr("lstat", path, err)
	}
	return attrFromStat(&st), nil
}

func (f *FS) Access(path string, mask uint32) error {
	return pathErr("access", path, unix.Access(path, mask))
}

func (f *FS) Open(path string, flags int) (backend.File, error) {
	var fd int
	err := ignoringEINTR(func() (err error) {
		fd, err = unix.Open(path, flags|unix.O_CLOEXEC, 0)
		return err
	})
	if err != nil {
		return nil, pathErr("open", path, err)
	}
	return &file{fd: fd, path: path}, nil
}

func (f *FS) Create(path string, flags int, mode uint32) (backend.File, error) {
	var fd int
	err := ignoringEINTR(func() (err error) {
		fd, err = unix.Open(path, flags|unix.O_CREAT|unix.O_CLOEXEC, mode)
		return err
	})
	if err != nil {
		return nil, pathErr("create", path, err)
	}
	return &file{fd: fd, path: path}, nil
}

func (f *FS) OpenDir(path string) (backend.Dir, error) {
	var fd int
	err := ignoringEINTR(func() (err error) {
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		return err
	})
	if err != nil {
		return nil, pathErr("opendir", path, err)
	}
	// The stream takes ownership of fd.
	ds, errno := gofs.NewLoopbackDirStreamFd(fd)
	if errno != 0 {
		unix.Close(fd)
		return nil, pathErr("opendir", path, errno)
	}
	return &dir{path: path, ds: ds}, nil
}

func (f *FS) Mkdir(path string, mode uint32) error {
	return pathErr("mkdir", path, unix.Mkdir(path, mode))
}

func (f *FS) Rmdir(path string) error {
	return pathErr("rmdir", path, unix.Rmdir(path))
}

func (f *FS) Mknod(path string, mode uint32, dev uint64) error {
	// Regular files go through open(2) so that filesystems without mknod
	// support for S_IFREG still work.
	if mode&syscall.S_IFMT == syscall.S_IFREG {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_CLOEXEC, mode&^syscall.S_IFMT)
		if err != nil {
			return pathErr("mknod", path, err)
		}
		return pathErr("mknod", path, unix.Close(fd))
	}
	if mode&syscall.S_IFMT == syscall.S_IFIFO {
		return pathErr("mknod", path, unix.Mkfifo(path, mode&^syscall.S_IFMT))
	}
	return pathErr("mknod", path, unix.Mknod(path, mode, int(dev)))
}

func (f *FS) Readlink(path string) (string, error) {
	for size := 256; ; size *= 2 {
		buf := make([]byte, size)
		n, err := unix.Readlink(path, buf)
		if err != nil {
			return "", pathErr("readlink", path, err)
		}
		if n < size {
			return string(buf[:n]), nil
		}
	}
}

func (f *FS) Unlink(path string) error {
	return pathErr("unlink", path, unix.Unlink(path))
}

func (f *FS) Rename(oldpath, newpath string) error {
	if err := unix.Rename(oldpath, newpath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
	return nil
}

func (f *FS) Truncate(path string, size int64) error {
	return pathErr("truncate", path, ignoringEINTR(func() error { return unix.Truncate(path, size) }))
}

func (f *FS) Symlink(target, path string) error {
	if err := unix.Symlink(target, path); err != nil {
		return &os.LinkError{Op: "symlink", Old: target, New: path, Err: err}
	}
	return nil
}

func (f *FS) Link(oldpath, newpath string) error {
	if err := unix.Link(oldpath, newpath); err != nil {
		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: err}
	}
	return nil
}

func (f *FS) Chmod(path string, mode uint32) error {
	return pathErr("chmod", path, unix.Chmod(path, mode))
}

func (f *FS) Lchown(path string, uid, gid int) error {
	return pathErr("lchown", path, unix.Lchown(path, uid, gid))
}

func (f *FS) Utimens(path string, atime, mtime *time.Time) error {
	ts := []unix.Timespec{toTimespec(atime), toTimespec(mtime)}
	return pathErr("utimens", path, unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW))
}

func (f *FS) Statfs(path string) (*backend.StatFS, error) {
	var st unix.Statfs_t
	if err := ignoringEINTR(func() error { return unix.Statfs(path, &st) }); err != nil {
		return nil, pathErr("statfs", path, err)
	}
	return statfsFromUnix(&st), nil
}

func toTimespec(t *time.Time) unix.Timespec {
	if t == nil {
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(t.UnixNano())
}

func attrFromStat(st *unix.Stat_t) *backend.Attr {
	return &backend.Attr{
		Dev:     uint64(st.Dev),
		Ino:     st.Ino,
		Mode:    uint32(st.Mode),
		Nlink:   uint64(st.Nlink),
		Uid:     st.Uid,
		Gid:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    st.Size,
		Blksize: int64(st.Blksize),
		Blocks:  st.Blocks,
		Atime:   time.Unix(st.Atim.Unix()),
		Mtime:   time.Unix(st.Mtim.Unix()),
		Ctime:   time.Unix(st.Ctim.Unix()),
	}
}

// file is an open descriptor used with pread/pwrite only.
type file struct {
	fd   int
	path string
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	var n int
	err := ignoringEINTR(func() (err error) {
		n, err = unix.Pread(f.fd, p, off)
		return err
	})
	if err != nil {
		return 0, pathErr("pread", f.path, err)
	}
	return n, nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	var n int
	err := ignoringEINTR(func() (err error) {
		n, err = unix.Pwrite(f.fd, p, off)
		return err
	})
	if err != nil {
		return n, pathErr("pwrite", f.path, err)
	}
	return n, nil
}

func (f *file) Stat() (*backend.Attr, error) {
	var st unix.Stat_t
	if err := ignoringEINTR(func() error { return unix.Fstat(f.fd, &st) }); err != nil {
		return nil, pathErr("fstat", f.path, err)
	}
	return attrFromStat(&st), nil
}

// Flush closes a duplicate of the descriptor, which is what close(2) on
// the caller's side would have done to the real file.
func (f *file) Flush() error {
	newFd, err := unix.Dup(f.fd)
	if err != nil {
		return pathErr("flush", f.path, err)
	}
	return pathErr("flush", f.path, unix.Close(newFd))
}

func (f *file) Sync(datasync bool) error {
	sync := unix.Fsync
	if datasync {
		sync = fdatasync
	}
	return pathErr("fsync", f.path, ignoringEINTR(func() error { return sync(f.fd) }))
}

func (f *file) Close() error {
	return pathErr("close", f.path, unix.Close(f.fd))
}

// dir lists a directory straight from getdents(2), so "." and ".." and the
// real inode numbers come through unchanged.
type dir struct {
	path string
	ds   gofs.DirStream
}

func (d *dir) ReadDir(n int) ([]backend.DirEntry, error) {
	var out []backend.DirEntry
	for (n <= 0 || len(out) < n) && d.ds.HasNext() {
		e, errno := d.ds.Next()
		if errno != 0 {
			return out, pathErr("readdir", d.path, errno)
		}
		out = append(out, backend.DirEntry{Name: e.Name, Ino: e.Ino, Mode: e.Mode})
	}
	if len(out) == 0 && n > 0 {
		return nil, io.EOF
	}
	return out, nil
}

func (d *dir) Close() error {
	d.ds.Close()
	return nil
}
