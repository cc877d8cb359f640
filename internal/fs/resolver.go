package fs

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// MaxPathLen is PATH_MAX, terminating NUL included.
const MaxPathLen = 4096

// Resolver maps virtual paths onto the real directory tree.
type Resolver struct {
	root string // without trailing slash; "" when the root is "/"
}

// NewResolver creates a resolver for root, which must be absolute.
func NewResolver(root string) *Resolver {
	root = filepath.Clean(root)
	if root == "/" {
		root = ""
	}
	return &Resolver{root: root}
}

// Root returns the real root directory.
func (r *Resolver) Root() string {
	if r.root == "" {
		return "/"
	}
	return r.root
}

// Resolve returns root + vpath. It fails with ErrPathEscapesRoot when ".."
// components would climb above the root, and with ErrPathTooLong when the
// result does not fit in PATH_MAX.
func (r *Resolver) Resolve(vpath string) (string, error) {
	if !strings.HasPrefix(vpath, "/") {
		vpath = "/" + vpath
	}
	if escapes(vpath) {
		return "", types.ErrPathEscapesRoot
	}

	clean := path.Clean(vpath)
	real := r.root + clean
	if clean == "/" {
		real = r.Root()
	}
	if len(real) >= MaxPathLen {
		return "", types.ErrPathTooLong
	}
	return real, nil
}

// escapes reports whether the ".." components of p walk above "/".
func escapes(p string) bool {
	depth := 0
	for _, elem := range strings.Split(p, "/") {
		switch elem {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}
