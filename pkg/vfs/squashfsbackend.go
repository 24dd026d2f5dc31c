package vfs

import (
	"time"

	"github.com/vorteil/vdiskfs/pkg/squashfs"
)

// SquashfsBackend adapts a squashfs.Reader to Backend. squashfs.MetadataRef
// (the inode-table position every directory entry already carries) is
// exactly spec.md §4.4's stable per-entry identifier, so NodeRef mirrors
// its shape field-for-field and the conversion is a straight relabeling.
type SquashfsBackend struct {
	r *squashfs.Reader
}

// NewSquashfsBackend wraps an open SquashFS reader for use behind Filesystem.
func NewSquashfsBackend(r *squashfs.Reader) *SquashfsBackend {
	return &SquashfsBackend{r: r}
}

func toNodeRef(ref squashfs.MetadataRef) NodeRef {
	return NodeRef{Block: ref.Block, Offset: ref.Offset}
}

func toMetadataRef(ref NodeRef) squashfs.MetadataRef {
	return squashfs.MetadataRef{Block: ref.Block, Offset: ref.Offset}
}

func squashfsKind(k squashfs.Kind) Kind {
	switch k {
	case squashfs.KindDirectory:
		return KindDirectory
	case squashfs.KindSymlink:
		return KindSymlink
	case squashfs.KindBlockDevice, squashfs.KindCharDevice:
		return KindDevice
	case squashfs.KindFifo, squashfs.KindSocket:
		return KindOther
	default:
		return KindRegular
	}
}

func (b *SquashfsBackend) Root() (NodeRef, error) {
	return toNodeRef(b.r.Superblock().RootInode), nil
}

func (b *SquashfsBackend) Attributes(ref NodeRef) (Attributes, error) {
	inode, err := b.r.Inode(toMetadataRef(ref))
	if err != nil {
		return Attributes{}, err
	}
	size := inode.Size
	return Attributes{
		Kind:    squashfsKind(inode.Kind),
		Size:    size,
		ModTime: time.Unix(int64(inode.MTime), 0).UTC(),
	}, nil
}

func (b *SquashfsBackend) ReadDir(ref NodeRef) ([]Child, error) {
	inode, err := b.r.Inode(toMetadataRef(ref))
	if err != nil {
		return nil, err
	}
	entries, err := b.r.ReadDir(inode)
	if err != nil {
		return nil, err
	}
	children := make([]Child, len(entries))
	for i, e := range entries {
		child, err := b.r.Inode(e.InodeRef)
		if err != nil {
			return nil, err
		}
		children[i] = Child{
			Name: e.Name,
			Ref:  toNodeRef(e.InodeRef),
			Kind: squashfsKind(child.Kind),
		}
	}
	return children, nil
}

func (b *SquashfsBackend) Lookup(ref NodeRef, name string) (Child, bool, error) {
	inode, err := b.r.Inode(toMetadataRef(ref))
	if err != nil {
		return Child{}, false, err
	}
	entry, found, err := b.r.Lookup(inode, name)
	if err != nil || !found {
		return Child{}, false, err
	}
	child, err := b.r.Inode(entry.InodeRef)
	if err != nil {
		return Child{}, false, err
	}
	return Child{Name: entry.Name, Ref: toNodeRef(entry.InodeRef), Kind: squashfsKind(child.Kind)}, true, nil
}

func (b *SquashfsBackend) ReadAt(ref NodeRef, pos int64, p []byte) (int, error) {
	inode, err := b.r.Inode(toMetadataRef(ref))
	if err != nil {
		return 0, err
	}
	return b.r.ReadFile(inode, pos, p)
}

func (b *SquashfsBackend) SymlinkTarget(ref NodeRef) (string, error) {
	inode, err := b.r.Inode(toMetadataRef(ref))
	if err != nil {
		return "", err
	}
	return inode.Target, nil
}

// CaseSensitive is always true for SquashFS: spec.md §4.3 describes no
// case-folding table, and mksquashfs stores and compares names as raw bytes.
func (b *SquashfsBackend) CaseSensitive() bool { return true }
