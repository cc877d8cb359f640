package osfs

import (
	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/slowpokefs/internal/backend"
)

func statfsFromUnix(st *unix.Statfs_t) *backend.StatFS {
	return &backend.StatFS{
		Bsize:   uint32(st.Bsize),
		Frsize:  uint32(st.Frsize),
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		NameLen: uint32(st.Namelen),
	}
}
