package squashfs

import (
	"fmt"

	"github.com/vorteil/vdiskfs/pkg/elog"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// Reader is an open, read-only SquashFS image.
type Reader struct {
	stream vio.SparseStream
	sb     Superblock
	log    elog.Logger

	metablocks *metablockCache
	dataBlocks *dataBlockCache

	fragments *indirectionTable
	ids       *indirectionTable
}

// Open parses the superblock at the start of stream and prepares the
// metablock/data-block caches and fragment/id indirection tables, per
// spec.md §4.3.
func Open(stream vio.SparseStream, log elog.Logger) (*Reader, error) {
	buf := make([]byte, SuperblockSize)
	if err := vio.ReadFull(stream, buf, 0); err != nil {
		return nil, fmt.Errorf("squashfs: reading superblock: %w", err)
	}
	sb, err := ParseSuperblock(buf)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		stream:     stream,
		sb:         sb,
		log:        elog.OrNop(log),
		metablocks: newMetablockCache(stream),
		dataBlocks: newDataBlockCache(stream),
	}

	r.fragments, err = loadIndirectionTable(stream, r.metablocks, sb.FragTableStart, int(sb.FragmentCount), fragmentRecordSize)
	if err != nil {
		return nil, fmt.Errorf("squashfs: loading fragment table: %w", err)
	}
	r.ids, err = loadIndirectionTable(stream, r.metablocks, sb.IDTableStart, int(sb.NoIDs), idRecordSize)
	if err != nil {
		return nil, fmt.Errorf("squashfs: loading id table: %w", err)
	}

	return r, nil
}

// Superblock returns the parsed superblock.
func (r *Reader) Superblock() Superblock { return r.sb }

// RootInode returns the root directory's inode.
func (r *Reader) RootInode() (Inode, error) {
	return r.Inode(r.sb.RootInode)
}

// Inode decodes the inode at ref, reading its inode-table-relative
// metadata through the shared metablock cache.
func (r *Reader) Inode(ref MetadataRef) (Inode, error) {
	mr, err := newMetaReader(r.metablocks, MetadataRef{Block: r.sb.InodeTableStart + ref.Block, Offset: ref.Offset})
	if err != nil {
		return Inode{}, err
	}
	inode, err := decodeInode(mr)
	if err != nil {
		return Inode{}, err
	}
	if inode.Kind == KindRegular {
		if err := finishRegularFile(mr, &inode, int64(r.sb.BlockSize)); err != nil {
			return Inode{}, err
		}
	}
	return inode, nil
}

// Fragment resolves fragment index idx to its table entry.
func (r *Reader) Fragment(idx uint32) (FragmentEntry, error) {
	buf, err := r.fragments.record(int(idx))
	if err != nil {
		return FragmentEntry{}, err
	}
	return decodeFragmentEntry(buf), nil
}

// UID resolves a uid-table index to a raw numeric ID.
func (r *Reader) UID(idx uint16) (uint32, error) {
	buf, err := r.ids.record(int(idx))
	if err != nil {
		return 0, err
	}
	return decodeIDRecord(buf), nil
}

// GID resolves a gid-table index the same way as UID; SquashFS shares one
// combined id table for both.
func (r *Reader) GID(idx uint16) (uint32, error) {
	return r.UID(idx)
}

// readDataBlock reads and decompresses the data block at pos described by
// lengthWord, through the shared data-block cache.
func (r *Reader) readDataBlock(pos int64, lengthWord uint32) ([]byte, error) {
	return r.dataBlocks.get(pos, lengthWord)
}
