// Package vfs is the virtual filesystem façade spec.md §4.4 describes: a
// single capability-set interface — enumerate-children, lookup-by-name,
// get-attributes, open-content-stream, is-symlink — over whichever concrete
// format reader a caller opens underneath it. It generalizes
// vdecompiler.IO's split/recurse path walk (pkg/vdecompiler/fs.go), which
// hard-codes ext's inode/directory shape, into a walk over any Backend.
package vfs

import "time"

// NodeRef is a backend-private, comparable handle to one file-system
// object. It doubles as spec.md §4.4's "stable uniqueCacheId", so backends
// must hand out the same NodeRef for the same underlying object every time.
type NodeRef struct {
	Block  int64
	Offset int
}

// Kind is the façade's variant tag for a file object: {Regular, Directory,
// Symlink, Device, Other}, per spec.md §4.4.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindDevice
	KindOther
)

// Attributes is a backend's get-attributes answer for one NodeRef.
type Attributes struct {
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// Child is one entry a backend's enumerate-children/lookup-by-name
// operations hand back: enough to address the child (Ref) and classify it
// without a further round-trip (Kind), plus its on-disk Name.
type Child struct {
	Name string
	Ref  NodeRef
	Kind Kind
}

// Backend is the capability set a concrete format reader must expose for
// Filesystem to walk it. Every method takes a NodeRef rather than a path:
// path resolution is Filesystem's job, not the backend's.
type Backend interface {
	// Root returns the NodeRef of the backend's root directory.
	Root() (NodeRef, error)

	// Attributes returns get-attributes information for ref.
	Attributes(ref NodeRef) (Attributes, error)

	// ReadDir enumerates ref's immediate children. ref must be a directory.
	ReadDir(ref NodeRef) ([]Child, error)

	// Lookup finds a single named child of ref, case-sensitively or not
	// per CaseSensitive. ref must be a directory.
	Lookup(ref NodeRef, name string) (Child, bool, error)

	// ReadAt implements open-content-stream's read(pos, p) contract: copies
	// up to len(p) bytes starting at byte offset pos into p, returning the
	// count copied. A short count (less than len(p)) means end of file.
	ReadAt(ref NodeRef, pos int64, p []byte) (int, error)

	// SymlinkTarget returns the textual target of a symlink node.
	SymlinkTarget(ref NodeRef) (string, error)

	// CaseSensitive reports whether name comparisons in this backend are
	// case-sensitive, per spec.md §4.4's "search honours case sensitivity
	// per filesystem".
	CaseSensitive() bool
}
