package vfs

import (
	"io"
	"testing"
	"time"
)

// fakeNode is one object in fakeBackend's in-memory tree.
type fakeNode struct {
	kind     Kind
	content  []byte
	target   string
	children []Child
}

// fakeBackend is a minimal in-memory Backend used to exercise Filesystem's
// walk/symlink/search logic without a real on-disk format underneath it.
type fakeBackend struct {
	nodes         map[NodeRef]*fakeNode
	next          int64
	caseSensitive bool
}

func newFakeBackend(caseSensitive bool) *fakeBackend {
	b := &fakeBackend{nodes: make(map[NodeRef]*fakeNode), caseSensitive: caseSensitive}
	root := b.add(&fakeNode{kind: KindDirectory})
	if root != (NodeRef{Offset: 0}) {
		panic("root must be the first node")
	}
	return b
}

func (b *fakeBackend) add(n *fakeNode) NodeRef {
	ref := NodeRef{Offset: int(b.next)}
	b.next++
	b.nodes[ref] = n
	return ref
}

func (b *fakeBackend) mkdir(parent NodeRef, name string) NodeRef {
	ref := b.add(&fakeNode{kind: KindDirectory})
	p := b.nodes[parent]
	p.children = append(p.children, Child{Name: name, Ref: ref, Kind: KindDirectory})
	return ref
}

func (b *fakeBackend) mkfile(parent NodeRef, name string, content []byte) NodeRef {
	ref := b.add(&fakeNode{kind: KindRegular, content: content})
	p := b.nodes[parent]
	p.children = append(p.children, Child{Name: name, Ref: ref, Kind: KindRegular})
	return ref
}

func (b *fakeBackend) mklink(parent NodeRef, name, target string) NodeRef {
	ref := b.add(&fakeNode{kind: KindSymlink, target: target})
	p := b.nodes[parent]
	p.children = append(p.children, Child{Name: name, Ref: ref, Kind: KindSymlink})
	return ref
}

func (b *fakeBackend) Root() (NodeRef, error) { return NodeRef{Offset: 0}, nil }

func (b *fakeBackend) Attributes(ref NodeRef) (Attributes, error) {
	n := b.nodes[ref]
	return Attributes{Kind: n.kind, Size: int64(len(n.content)), ModTime: time.Unix(0, 0).UTC()}, nil
}

func (b *fakeBackend) ReadDir(ref NodeRef) ([]Child, error) {
	return b.nodes[ref].children, nil
}

func (b *fakeBackend) Lookup(ref NodeRef, name string) (Child, bool, error) {
	for _, c := range b.nodes[ref].children {
		if b.namesEqual(c.Name, name) {
			return c, true, nil
		}
	}
	return Child{}, false, nil
}

func (b *fakeBackend) namesEqual(a, c string) bool {
	if b.caseSensitive {
		return a == c
	}
	return equalFold(a, c)
}

func equalFold(a, c string) bool {
	if len(a) != len(c) {
		return false
	}
	for i := range a {
		ai, ci := a[i], c[i]
		if 'A' <= ai && ai <= 'Z' {
			ai += 'a' - 'A'
		}
		if 'A' <= ci && ci <= 'Z' {
			ci += 'a' - 'A'
		}
		if ai != ci {
			return false
		}
	}
	return true
}

func (b *fakeBackend) ReadAt(ref NodeRef, pos int64, p []byte) (int, error) {
	n := b.nodes[ref]
	if pos >= int64(len(n.content)) {
		return 0, nil
	}
	return copy(p, n.content[pos:]), nil
}

func (b *fakeBackend) SymlinkTarget(ref NodeRef) (string, error) {
	return b.nodes[ref].target, nil
}

func (b *fakeBackend) CaseSensitive() bool { return b.caseSensitive }

func buildTestTree(t *testing.T) *fakeBackend {
	t.Helper()
	b := newFakeBackend(true)
	root := NodeRef{Offset: 0}
	etc := b.mkdir(root, "etc")
	b.mkfile(etc, "hosts", []byte("127.0.0.1 localhost\n"))
	b.mkfile(etc, "hostname", []byte("box\n"))
	bin := b.mkdir(root, "bin")
	b.mkfile(bin, "sh", []byte{0x7f, 'E', 'L', 'F'})
	b.mklink(root, "etc-link", "/etc")
	b.mklink(etc, "hosts-link", "hosts")
	b.mklink(root, "self-loop", "/self-loop")
	return b
}

func TestGetDirectoryEntryBasic(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := fs.GetDirectoryEntry("/etc/hosts")
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	if e == nil {
		t.Fatal("expected entry, got nil")
	}
	if e.Name() != "hosts" || e.IsDir() {
		t.Fatalf("unexpected entry: name=%q isDir=%v", e.Name(), e.IsDir())
	}
	if e.Size() != int64(len("127.0.0.1 localhost\n")) {
		t.Fatalf("unexpected size %d", e.Size())
	}
}

func TestGetDirectoryEntryBackslashPath(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := fs.GetDirectoryEntry(`\etc\hostname`)
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	if e == nil || e.Name() != "hostname" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestGetDirectoryEntryMissing(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := fs.GetDirectoryEntry("/etc/nope")
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil for missing path, got %+v", e)
	}
}

func TestGetDirectoryEntryRoot(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := fs.GetDirectoryEntry("/")
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	if e != fs.Root() {
		t.Fatal("expected root entry for \"/\"")
	}
}

func TestSymlinkResolutionAbsoluteAndRelative(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	e, err := fs.GetDirectoryEntry("/etc-link/hosts")
	if err != nil {
		t.Fatalf("GetDirectoryEntry(absolute-link): %v", err)
	}
	if e == nil || e.Name() != "hosts" {
		t.Fatalf("unexpected entry resolving through absolute symlink: %+v", e)
	}

	e2, err := fs.GetDirectoryEntry("/etc/hosts-link")
	if err != nil {
		t.Fatalf("GetDirectoryEntry(relative-link): %v", err)
	}
	if e2 == nil || e2.Name() != "hosts" {
		t.Fatalf("unexpected entry resolving through relative symlink: %+v", e2)
	}
}

func TestSymlinkResolutionExceedsHopBound(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := fs.GetDirectoryEntry("/self-loop")
	if err != nil {
		t.Fatalf("expected a nil error for a symlink cycle, got %v", err)
	}
	if e != nil {
		t.Fatalf("expected a nil entry for a symlink cycle, got %+v", e)
	}
}

func TestDotAndDotDot(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := fs.GetDirectoryEntry("/etc/./../etc/hosts")
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	if e == nil || e.Name() != "hosts" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestOpenFileReadOnly(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc, err := fs.OpenFile("/etc/hostname", ModeOpen, AccessRead)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "box\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOpenFileRejectsWrite(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.OpenFile("/etc/hostname", ModeOpen, AccessWrite); err == nil {
		t.Fatal("expected error opening for write on a read-only filesystem")
	}
	if _, err := fs.OpenFile("/etc/newfile", ModeCreate, AccessReadWrite); err == nil {
		t.Fatal("expected error creating a file on a read-only filesystem")
	}
}

func TestOpenFileRejectsDirectory(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.OpenFile("/etc", ModeOpen, AccessRead); err == nil {
		t.Fatal("expected error opening a directory for content")
	}
}

func TestSearchNonRecursive(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	etc, err := fs.GetDirectoryEntry("/etc")
	if err != nil || etc == nil {
		t.Fatalf("GetDirectoryEntry(/etc): %v", err)
	}
	matches, err := fs.Search(etc, "host*", false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
}

func TestSearchRecursive(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	matches, err := fs.Search(fs.Root(), "host?", true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Name() != "hosts" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestFileCacheIdentity(t *testing.T) {
	fs, err := Open(buildTestTree(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a, err := fs.GetDirectoryEntry("/etc/hosts")
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	b, err := fs.GetDirectoryEntry("/etc/hosts")
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	if a != b {
		t.Fatal("expected the same cached *Entry for repeated lookups of the same node")
	}
}

func TestCaseInsensitiveBackend(t *testing.T) {
	b := newFakeBackend(false)
	root := NodeRef{Offset: 0}
	b.mkfile(root, "README.md", []byte("hi"))
	fs, err := Open(b, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := fs.GetDirectoryEntry("/readme.md")
	if err != nil {
		t.Fatalf("GetDirectoryEntry: %v", err)
	}
	if e == nil {
		t.Fatal("expected case-insensitive lookup to succeed")
	}
}
