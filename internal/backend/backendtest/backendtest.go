// Package backendtest holds a conformance suite shared by backend implementations.
package backendtest

import (
	"errors"
	"io"
	"path/filepath"
	"sort"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
)

// Factory returns a backend and the absolute path of an empty directory in it.
type Factory func(t *testing.T) (backend.Backend, string)

// Run exercises b against the behaviour every backend must share.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateWriteRead", func(t *testing.T) { testCreateWriteRead(t, newBackend) })
	t.Run("ShortReadAtEOF", func(t *testing.T) { testShortRead(t, newBackend) })
	t.Run("Listing", func(t *testing.T) { testListing(t, newBackend) })
	t.Run("Errors", func(t *testing.T) { testErrors(t, newBackend) })
	t.Run("Rename", func(t *testing.T) { testRename(t, newBackend) })
	t.Run("Links", func(t *testing.T) { testLinks(t, newBackend) })
	t.Run("Attributes", func(t *testing.T) { testAttributes(t, newBackend) })
	t.Run("UnlinkWhileOpen", func(t *testing.T) { testUnlinkWhileOpen(t, newBackend) })
}

func errno(err error) syscall.Errno {
	var e syscall.Errno
	if errors.As(err, &e) {
		return e
	}
	return 0
}

func writeFile(t *testing.T, b backend.Backend, path string, data []byte) {
	t.Helper()
	f, err := b.Create(path, syscall.O_WRONLY|syscall.O_TRUNC, 0644)
	require.NoError(t, err)
	n, err := f.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
}

func testCreateWriteRead(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	p := filepath.Join(root, "hello.txt")

	writeFile(t, b, p, []byte("hello world"))

	attr, err := b.Lstat(p)
	require.NoError(t, err)
	assert.Equal(t, int64(11), attr.Size)
	assert.Equal(t, uint32(syscall.S_IFREG), attr.Type())
	assert.NotZero(t, attr.Mode&0400, "owner read bit")

	f, err := b.Open(p, syscall.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	fattr, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, attr.Ino, fattr.Ino)
	assert.NoError(t, f.Flush())
	assert.NoError(t, f.Sync(false))
}

func testShortRead(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	p := filepath.Join(root, "small")
	writeFile(t, b, p, []byte("abc"))

	f, err := b.Open(p, syscall.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 10)
	n, err := f.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "bc", string(buf[:n]))

	n, err = f.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testListing(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	require.NoError(t, b.Mkdir(filepath.Join(root, "sub"), 0755))
	writeFile(t, b, filepath.Join(root, "a.txt"), []byte("a"))
	writeFile(t, b, filepath.Join(root, "sub", "nested.txt"), []byte("n"))
	require.NoError(t, b.Symlink("a.txt", filepath.Join(root, "link")))

	d, err := b.OpenDir(root)
	require.NoError(t, err)
	defer d.Close()

	types := map[string]uint32{}
	for {
		ents, err := d.ReadDir(1)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for _, e := range ents {
			types[e.Name] = e.Mode
		}
	}

	// "." and ".." appear only when the backend's enumeration yields them.
	names := make([]string, 0, len(types))
	for name, mode := range types {
		if name == "." || name == ".." {
			assert.Equal(t, uint32(syscall.S_IFDIR), mode, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a.txt", "link", "sub"}, names)
	assert.Equal(t, uint32(syscall.S_IFDIR), types["sub"])
	assert.Equal(t, uint32(syscall.S_IFREG), types["a.txt"])
	assert.Equal(t, uint32(syscall.S_IFLNK), types["link"])
}

func testErrors(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	missing := filepath.Join(root, "missing")
	file := filepath.Join(root, "file")
	dir := filepath.Join(root, "dir")
	writeFile(t, b, file, []byte("x"))
	require.NoError(t, b.Mkdir(dir, 0755))
	writeFile(t, b, filepath.Join(dir, "child"), nil)

	_, err := b.Lstat(missing)
	assert.Equal(t, syscall.ENOENT, errno(err))

	_, err = b.Open(missing, syscall.O_RDONLY)
	assert.Equal(t, syscall.ENOENT, errno(err))

	assert.Equal(t, syscall.EEXIST, errno(b.Mkdir(dir, 0755)))
	assert.Equal(t, syscall.ENOTEMPTY, errno(b.Rmdir(dir)))
	assert.Equal(t, syscall.ENOTDIR, errno(b.Rmdir(file)))
	assert.Equal(t, syscall.ENOENT, errno(b.Unlink(missing)))

	_, err = b.OpenDir(file)
	assert.Equal(t, syscall.ENOTDIR, errno(err))

	_, err = b.Readlink(file)
	assert.Equal(t, syscall.EINVAL, errno(err))

	_, err = b.Create(file, syscall.O_WRONLY|syscall.O_EXCL, 0644)
	assert.Equal(t, syscall.EEXIST, errno(err))

	assert.Equal(t, syscall.ENOENT, errno(b.Mkdir(filepath.Join(missing, "x"), 0755)))
}

func testRename(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	src := filepath.Join(root, "src")
	require.NoError(t, b.Mkdir(src, 0755))
	writeFile(t, b, filepath.Join(src, "f"), []byte("payload"))

	dst := filepath.Join(root, "dst")
	require.NoError(t, b.Rename(src, dst))

	_, err := b.Lstat(src)
	assert.Equal(t, syscall.ENOENT, errno(err))

	attr, err := b.Lstat(filepath.Join(dst, "f"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), attr.Size)

	other := filepath.Join(root, "other")
	writeFile(t, b, other, []byte("1"))
	require.NoError(t, b.Rename(other, filepath.Join(dst, "f")))
	attr, err = b.Lstat(filepath.Join(dst, "f"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), attr.Size)
}

func testLinks(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	target := filepath.Join(root, "target")
	writeFile(t, b, target, []byte("data"))

	link := filepath.Join(root, "sym")
	require.NoError(t, b.Symlink("target", link))
	got, err := b.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "target", got)

	attr, err := b.Lstat(link)
	require.NoError(t, err)
	assert.Equal(t, uint32(syscall.S_IFLNK), attr.Type())

	hard := filepath.Join(root, "hard")
	require.NoError(t, b.Link(target, hard))
	a1, err := b.Lstat(target)
	require.NoError(t, err)
	a2, err := b.Lstat(hard)
	require.NoError(t, err)
	assert.Equal(t, a1.Ino, a2.Ino)
	assert.Equal(t, uint64(2), a2.Nlink)
}

func testAttributes(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	p := filepath.Join(root, "attrs")
	writeFile(t, b, p, []byte("0123456789"))

	require.NoError(t, b.Truncate(p, 4))
	attr, err := b.Lstat(p)
	require.NoError(t, err)
	assert.Equal(t, int64(4), attr.Size)

	require.NoError(t, b.Chmod(p, 0600))
	attr, err = b.Lstat(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(0600), attr.Mode&07777)

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, b.Utimens(p, nil, &mtime))
	attr, err = b.Lstat(p)
	require.NoError(t, err)
	assert.True(t, attr.Mtime.Equal(mtime), "mtime = %v", attr.Mtime)

	require.NoError(t, b.Lchown(p, -1, -1))
	require.NoError(t, b.Access(p, 0))

	st, err := b.Statfs(root)
	require.NoError(t, err)
	assert.NotZero(t, st.Bsize)
}

func testUnlinkWhileOpen(t *testing.T, newBackend Factory) {
	b, root := newBackend(t)
	p := filepath.Join(root, "ghost")
	writeFile(t, b, p, []byte("still here"))

	f, err := b.Open(p, syscall.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, b.Unlink(p))

	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(buf[:n]))
}
