package osfs

import (
	"errors"
	"io"
	"syscall"
	"testing"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
	"github.com/ajaxzhan/slowpokefs/internal/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) (backend.Backend, string) {
		return New(), t.TempDir()
	})
}

func TestMknodRegular(t *testing.T) {
	root := t.TempDir()
	fs := New()
	p := root + "/node"

	if err := fs.Mknod(p, 0100644, 0); err != nil {
		t.Fatalf("Mknod() error = %v", err)
	}
	attr, err := fs.Lstat(p)
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	if attr.IsDir() || attr.Size != 0 {
		t.Errorf("unexpected attributes: %+v", attr)
	}
}

func TestReadlinkLongTarget(t *testing.T) {
	root := t.TempDir()
	fs := New()
	target := make([]byte, 600)
	for i := range target {
		target[i] = 'a'
	}
	link := root + "/long"

	if err := fs.Symlink(string(target), link); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}
	got, err := fs.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if got != string(target) {
		t.Errorf("Readlink() returned %d bytes, want %d", len(got), len(target))
	}
}

func TestReadDirYieldsDotEntries(t *testing.T) {
	root := t.TempDir()
	fs := New()
	f, err := fs.Create(root+"/a", syscall.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.Close()

	d, err := fs.OpenDir(root)
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	defer d.Close()

	ents, err := d.ReadDir(0)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	inodes := map[string]uint64{}
	for _, e := range ents {
		inodes[e.Name] = e.Ino
	}
	for _, name := range []string{".", "..", "a"} {
		if _, ok := inodes[name]; !ok {
			t.Errorf("ReadDir() missing %q, got %v", name, inodes)
		}
	}
	if len(inodes) != 3 {
		t.Errorf("ReadDir() returned %d entries, want 3", len(inodes))
	}

	attr, err := fs.Lstat(root + "/a")
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	if inodes["a"] != attr.Ino {
		t.Errorf("entry inode = %d, want %d", inodes["a"], attr.Ino)
	}

	if _, err := d.ReadDir(1); err != io.EOF {
		t.Errorf("ReadDir() at end = %v, want io.EOF", err)
	}
}

func TestOpenDirNotADirectory(t *testing.T) {
	root := t.TempDir()
	fs := New()
	f, err := fs.Create(root+"/file", syscall.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.Close()

	if _, err := fs.OpenDir(root + "/file"); !errors.Is(err, syscall.ENOTDIR) {
		t.Errorf("OpenDir() error = %v, want ENOTDIR", err)
	}
}

func TestSync(t *testing.T) {
	root := t.TempDir()
	fs := New()
	f, err := fs.Create(root+"/f", syscall.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte("data"), 0); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}

	for _, datasync := range []bool{false, true} {
		if err := f.Sync(datasync); err != nil {
			t.Errorf("Sync(%v) error = %v", datasync, err)
		}
	}
}
