// Package backend defines the real-filesystem primitives the dispatcher forwards to.
//
// Every path handed to a Backend is already resolved against the mount root.
// Implementations report failures as errors wrapping a syscall.Errno so the
// dispatcher can hand the exact native code back to the kernel.
package backend

import (
	"syscall"
	"time"
)

// Attr is the attribute record returned by attribute queries.
type Attr struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32 // file type and permission bits, as in st_mode
	Nlink   uint64
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a *Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// Type returns only the file type bits of Mode.
func (a *Attr) Type() uint32 {
	return a.Mode & syscall.S_IFMT
}

// DirEntry is a single directory entry with its coarse type.
type DirEntry struct {
	Name string
	Ino  uint64
	Mode uint32 // S_IFDIR, S_IFREG, S_IFLNK, ...; permission bits are not set
}

// StatFS describes the filesystem holding a path.
type StatFS struct {
	Bsize   uint32
	Frsize  uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen uint32
}

// File is an open regular file. Reads and writes are positional and never
// move a shared offset, so one File may serve concurrent requests.
type File interface {
	// ReadAt reads up to len(p) bytes at off. A short count, including zero
	// at end-of-file, is not an error.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes p at off and returns the number of bytes written.
	WriteAt(p []byte, off int64) (int, error)

	// Stat returns the attributes of the open file.
	Stat() (*Attr, error)

	// Flush is called on every close(2) of a descriptor referring to the file.
	Flush() error

	// Sync commits the file to stable storage.
	Sync(datasync bool) error

	// Close releases the underlying descriptor.
	Close() error
}

// Dir is an open directory stream.
type Dir interface {
	// ReadDir returns up to n entries, or all remaining ones when n <= 0.
	// Entries appear as the underlying enumeration yields them, "." and ".."
	// included. At the end of the stream it returns no entries and io.EOF.
	ReadDir(n int) ([]DirEntry, error)

	// Close releases the stream.
	Close() error
}

// Backend is the set of primitives a passthrough mount needs.
type Backend interface {
	Lstat(path string) (*Attr, error)
	Access(path string, mask uint32) error
	Open(path string, flags int) (File, error)
	Create(path string, flags int, mode uint32) (File, error)
	OpenDir(path string) (Dir, error)
	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Mknod(path string, mode uint32, dev uint64) error
	Readlink(path string) (string, error)
	Unlink(path string) error
	Rename(oldpath, newpath string) error
	Truncate(path string, size int64) error
	Symlink(target, path string) error
	Link(oldpath, newpath string) error
	Chmod(path string, mode uint32) error
	Lchown(path string, uid, gid int) error
	Utimens(path string, atime, mtime *time.Time) error
	Statfs(path string) (*StatFS, error)
}
