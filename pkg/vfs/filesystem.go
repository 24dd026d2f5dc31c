package vfs

import (
	"fmt"
	"io"

	"github.com/vorteil/vdiskfs/pkg/elog"
	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// maxSymlinkHops bounds symlink resolution, spec.md §4.4's
// MAXSYMLINKS-equivalent.
const maxSymlinkHops = 20

// OpenMode is the file-mode algebra spec.md §4.4's openFile names.
type OpenMode int

const (
	ModeOpen OpenMode = iota
	ModeCreate
	ModeOpenOrCreate
	ModeCreateNew
)

// AccessMode is the access half of openFile's (mode, access) pair.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
	AccessReadWrite
)

// Filesystem is the VFS façade: path resolution, symlink chase, search, and
// a file-object cache over a single Backend, per spec.md §4.4.
type Filesystem struct {
	backend Backend
	log     elog.Logger
	cache   map[NodeRef]*Entry
	root    *Entry
}

// Open constructs a Filesystem façade over backend.
func Open(backend Backend, log elog.Logger) (*Filesystem, error) {
	fs := &Filesystem{
		backend: backend,
		log:     elog.OrNop(log),
		cache:   make(map[NodeRef]*Entry),
	}
	ref, err := backend.Root()
	if err != nil {
		return nil, fmt.Errorf("vfs: loading root: %w", err)
	}
	root, err := fs.entryForRef(ref, "", nil)
	if err != nil {
		return nil, err
	}
	root.parent = root
	fs.root = root
	return fs, nil
}

// CaseSensitive reports whether this filesystem's backend honours case in
// name comparisons.
func (fs *Filesystem) CaseSensitive() bool { return fs.backend.CaseSensitive() }

// Root returns the façade's root directory entry.
func (fs *Filesystem) Root() *Entry { return fs.root }

// entryFor returns the cached Entry for ref, constructing and caching one
// from name/kind-free attributes if this is the first time ref is seen,
// per spec.md §4.4's "populated lazily; never invalidated by the VFS layer
// itself".
func (fs *Filesystem) entryFor(ref NodeRef, name string, parent *Entry) *Entry {
	e, err := fs.entryForRef(ref, name, parent)
	if err != nil {
		// Attribute lookups against a ref a backend just handed back
		// should never fail; surface nothing rather than panic, callers
		// that need the error go through Children()/GetDirectoryEntry.
		return nil
	}
	return e
}

func (fs *Filesystem) entryForRef(ref NodeRef, name string, parent *Entry) (*Entry, error) {
	if e, ok := fs.cache[ref]; ok {
		return e, nil
	}
	attrs, err := fs.backend.Attributes(ref)
	if err != nil {
		return nil, err
	}
	e := &Entry{fs: fs, ref: ref, name: name, attrs: attrs, parent: parent}
	fs.cache[ref] = e
	return e, nil
}

// GetDirectoryEntry resolves path to an Entry, per spec.md §4.4: split,
// then walk, chasing symlinks encountered mid-path. A path that can't be
// resolved returns a nil Entry and a nil error — callers convert that to
// "file not found".
func (fs *Filesystem) GetDirectoryEntry(path string) (*Entry, error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return fs.root, nil
	}
	return fs.walk(fs.root, comps, 0)
}

// walk drives the Split → Walk → Resolve-symlink? → Re-walk-remainder
// state machine spec.md §4.4 describes, threading a single hop budget
// through any nested symlink resolutions.
func (fs *Filesystem) walk(start *Entry, comps []string, hops int) (*Entry, error) {
	cur := start
	for _, name := range comps {
		switch name {
		case ".":
			continue
		case "..":
			cur = cur.parent
			continue
		}

		child, found, err := fs.lookupChild(cur, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}

		if child.IsSymlink() {
			if hops >= maxSymlinkHops {
				// spec.md: a cycle resolves to "not found", not a hard
				// error, so callers checking vdiskerr.KindNotFound see
				// the same outcome as any other unresolvable path.
				return nil, nil
			}
			target, err := fs.backend.SymlinkTarget(child.ref)
			if err != nil {
				return nil, err
			}
			base := cur
			if isAbsolute(target) {
				base = fs.root
			}
			resolved, err := fs.walk(base, splitPath(target), hops+1)
			if err != nil {
				return nil, err
			}
			if resolved == nil {
				return nil, nil
			}
			cur = resolved
			continue
		}

		cur = child
	}
	return cur, nil
}

func (fs *Filesystem) lookupChild(parent *Entry, name string) (*Entry, bool, error) {
	if !parent.IsDir() {
		return nil, false, nil
	}
	child, found, err := fs.backend.Lookup(parent.ref, name)
	if err != nil || !found {
		return nil, false, err
	}
	e, err := fs.entryForRef(child.Ref, child.Name, parent)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// OpenFile implements spec.md §4.4's openFile(path, mode, access). This
// module's only wired backend (SquashFS) is read-only, so only
// (ModeOpen, AccessRead) is ever accepted; every writable-filesystem
// variant of the mode algebra has no backend to exercise it yet and fails
// with ErrNotSupported rather than being left half-implemented.
func (fs *Filesystem) OpenFile(path string, mode OpenMode, access AccessMode) (io.ReadCloser, error) {
	if mode != ModeOpen || access != AccessRead {
		return nil, fmt.Errorf("vfs: mode/access %v/%v not supported: %w", mode, access, vdiskerr.ErrNotSupported)
	}
	entry, err := fs.GetDirectoryEntry(path)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("vfs: %q not found: %w", path, vdiskerr.ErrNotFound)
	}
	return entry.Open()
}
