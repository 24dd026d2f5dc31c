package vfs

import (
	"fmt"
	"io"
	"time"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// Entry is one resolved file-system object: the façade's File-capability
// handle, matching vio.File's shape (pkg/vio/file.go) but backed by
// whichever Backend produced it instead of an *os.File.
type Entry struct {
	fs     *Filesystem
	parent *Entry
	name   string
	ref    NodeRef
	attrs  Attributes
}

// Name returns the entry's own base name; the root's name is empty.
func (e *Entry) Name() string { return e.name }

// Size returns the entry's byte size, zero for directories.
func (e *Entry) Size() int64 { return e.attrs.Size }

// ModTime returns the entry's last-modified time.
func (e *Entry) ModTime() time.Time { return e.attrs.ModTime }

// Kind returns the entry's variant tag.
func (e *Entry) Kind() Kind { return e.attrs.Kind }

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.attrs.Kind == KindDirectory }

// IsSymlink reports whether the entry is a symlink.
func (e *Entry) IsSymlink() bool { return e.attrs.Kind == KindSymlink }

// UniqueCacheID returns the stable identifier the file cache keys on.
func (e *Entry) UniqueCacheID() NodeRef { return e.ref }

// Children enumerates a directory entry's immediate children.
func (e *Entry) Children() ([]*Entry, error) {
	if !e.IsDir() {
		return nil, fmt.Errorf("vfs: %q is not a directory: %w", e.name, vdiskerr.ErrNotSupported)
	}
	kids, err := e.fs.backend.ReadDir(e.ref)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, len(kids))
	for i, k := range kids {
		child, err := e.fs.entryForRef(k.Ref, k.Name, e)
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}

// Open returns a read-only content stream over the entry, per spec.md
// §4.4's openFile(path, mode=Open, access=Read) contract for read-only
// filesystems.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.IsDir() {
		return nil, fmt.Errorf("vfs: %q is a directory: %w", e.name, vdiskerr.ErrNotSupported)
	}
	return &entryReader{entry: e}, nil
}

type entryReader struct {
	entry *Entry
	pos   int64
}

func (r *entryReader) Read(p []byte) (int, error) {
	n, err := r.entry.fs.backend.ReadAt(r.entry.ref, r.pos, p)
	r.pos += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *entryReader) Close() error { return nil }
