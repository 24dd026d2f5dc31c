package squashfs

import (
	"encoding/binary"
	"fmt"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// indirectionTable locates individual fixed-size records that are packed
// into a chain of metablocks, themselves pointed to by a table of 8-byte
// absolute offsets, per spec.md §4.3: "a table of 8-byte absolute offsets,
// one per 8-KiB metablock that covers count × recordSize bytes."
type indirectionTable struct {
	pointers   []int64
	recordSize int
	cache      *metablockCache
}

// loadIndirectionTable reads the pointer array itself (tableStart holds
// ceil(count*recordSize/8192) raw 8-byte pointers, read directly — not
// through a metablock, since the pointer table is stored uncompressed and
// flat) and wraps it for per-record lookups.
func loadIndirectionTable(stream vio.SparseStream, cache *metablockCache, tableStart int64, count int, recordSize int) (*indirectionTable, error) {
	if count == 0 {
		return &indirectionTable{recordSize: recordSize, cache: cache}, nil
	}
	totalBytes := count * recordSize
	blocks := (totalBytes + metablockSize - 1) / metablockSize

	raw := make([]byte, blocks*8)
	if err := vio.ReadFull(stream, raw, tableStart); err != nil {
		return nil, fmt.Errorf("squashfs: reading indirection pointer table at %d: %w", tableStart, err)
	}

	pointers := make([]int64, blocks)
	for i := range pointers {
		pointers[i] = int64(binary.LittleEndian.Uint64(raw[i*8 : i*8+8]))
	}

	return &indirectionTable{pointers: pointers, recordSize: recordSize, cache: cache}, nil
}

// record returns the raw bytes of record n.
func (t *indirectionTable) record(n int) ([]byte, error) {
	block := (n * t.recordSize) / metablockSize
	offset := (n * t.recordSize) % metablockSize
	if block < 0 || block >= len(t.pointers) {
		return nil, fmt.Errorf("squashfs: indirection record %d out of range: %w", n, vdiskerr.ErrBounds)
	}

	r, err := newMetaReader(t.cache, MetadataRef{Block: t.pointers[block], Offset: offset})
	if err != nil {
		return nil, err
	}
	buf := make([]byte, t.recordSize)
	if err := r.read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FragmentEntry is one fragment-table record: the fragment block's start
// offset and its on-disk length word (same low-24-bits-length/bit-24-flag
// encoding as a regular data block).
type FragmentEntry struct {
	Start      int64
	LengthWord uint32
}

func decodeFragmentEntry(buf []byte) FragmentEntry {
	return FragmentEntry{
		Start:      int64(binary.LittleEndian.Uint64(buf[0:8])),
		LengthWord: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

const fragmentRecordSize = 16

// idRecordSize is the on-disk size of one uid/gid table record.
const idRecordSize = 4

func decodeIDRecord(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf[0:4])
}
