package memfs

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
	"github.com/ajaxzhan/slowpokefs/internal/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) (backend.Backend, string) {
		return New("/mem"), "/mem"
	})
}

func TestRenameIntoOwnSubtree(t *testing.T) {
	fs := New("/mem")
	require.NoError(t, fs.Mkdir("/mem/a", 0755))

	err := fs.Rename("/mem/a", "/mem/a/b")
	assert.ErrorIs(t, err, syscall.EINVAL)
}

func TestRenameMovesDescendants(t *testing.T) {
	fs := New("/mem")
	require.NoError(t, fs.Mkdir("/mem/a", 0755))
	require.NoError(t, fs.Mkdir("/mem/a/b", 0755))
	require.NoError(t, fs.Mknod("/mem/a/b/c", syscall.S_IFREG|0644, 0))
	require.NoError(t, fs.Mknod("/mem/a-sibling", syscall.S_IFREG|0644, 0))

	require.NoError(t, fs.Rename("/mem/a", "/mem/z"))

	_, err := fs.Lstat("/mem/z/b/c")
	assert.NoError(t, err)
	_, err = fs.Lstat("/mem/a-sibling")
	assert.NoError(t, err, "sibling sharing the prefix must not move")
	assert.Equal(t, 5, fs.Len())
}

func TestRootIsProtected(t *testing.T) {
	fs := New("/mem")
	assert.ErrorIs(t, fs.Rmdir("/mem"), syscall.EBUSY)
	assert.ErrorIs(t, fs.Mkdir("/mem", 0755), syscall.EEXIST)
}

func TestWriteOnReadOnlyHandle(t *testing.T) {
	fs := New("/mem")
	f, err := fs.Create("/mem/f", syscall.O_RDONLY, 0644)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, syscall.EBADF)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), syscall.EBADF)
}

func TestAppendIgnoresOffset(t *testing.T) {
	fs := New("/mem")
	f, err := fs.Create("/mem/log", syscall.O_WRONLY|syscall.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("one"), 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("two"), 0)
	require.NoError(t, err)

	attr, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(6), attr.Size)
}

func TestSymlinkLoop(t *testing.T) {
	fs := New("/mem")
	require.NoError(t, fs.Symlink("b", "/mem/a"))
	require.NoError(t, fs.Symlink("a", "/mem/b"))

	_, err := fs.Open("/mem/a", syscall.O_RDONLY)
	assert.ErrorIs(t, err, syscall.ELOOP)
}
