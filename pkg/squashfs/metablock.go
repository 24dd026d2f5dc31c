package squashfs

import (
	"encoding/binary"
	"fmt"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// metablockCacheEntries is the fixed size of BlockCache<Metablock>, per
// spec.md §4.3.
const metablockCacheEntries = 20

// dataBlockCacheEntries is the fixed size of BlockCache<Block>.
const dataBlockCacheEntries = 20

// metablock holds the decompressed bytes of one 8 KiB metadata block,
// keyed by its on-disk start offset.
type metablock struct {
	data           []byte
	nextBlockStart int64
}

// readMetablock decodes the 2-byte prelude at pos (length low 15 bits,
// compressed flag high bit clear) and returns its decompressed content
// plus the offset of the block immediately following it, per spec.md §4.3.
// A length field of 0 is reinterpreted as 0x8000.
func readMetablock(stream vio.SparseStream, pos int64) (metablock, error) {
	prelude := make([]byte, 2)
	if err := vio.ReadFull(stream, prelude, pos); err != nil {
		return metablock{}, fmt.Errorf("squashfs: reading metablock prelude at %d: %w", pos, err)
	}
	raw := binary.LittleEndian.Uint16(prelude)
	compressed := raw&0x8000 == 0
	length := int(raw & 0x7FFF)
	if length == 0 {
		length = 0x8000
	}

	payload := make([]byte, length)
	if err := vio.ReadFull(stream, payload, pos+2); err != nil {
		return metablock{}, fmt.Errorf("squashfs: reading metablock payload at %d: %w", pos+2, err)
	}

	data := payload
	if compressed {
		var err error
		data, err = inflate(payload)
		if err != nil {
			return metablock{}, err
		}
	}

	return metablock{data: data, nextBlockStart: pos + int64(length) + 2}, nil
}

// metablockCache is an LRU cache of up to metablockCacheEntries decompressed
// metablocks, keyed by on-disk start offset. It wraps the teacher's
// BlockCacheStream-style LRU shape (pkg/vio/blockcache.go) around fixed-size
// metadata blocks instead of fixed-size data blocks.
type metablockCache struct {
	stream vio.SparseStream
	lru    map[int64]metablock
	order  []int64
}

func newMetablockCache(stream vio.SparseStream) *metablockCache {
	return &metablockCache{stream: stream, lru: make(map[int64]metablock)}
}

func (c *metablockCache) get(pos int64) (metablock, error) {
	if mb, ok := c.lru[pos]; ok {
		for i, p := range c.order {
			if p == pos {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		c.order = append(c.order, pos)
		return mb, nil
	}
	mb, err := readMetablock(c.stream, pos)
	if err != nil {
		return metablock{}, err
	}
	c.store(pos, mb)
	return mb, nil
}

func (c *metablockCache) store(pos int64, mb metablock) {
	if len(c.order) >= metablockCacheEntries {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.lru, evict)
	}
	c.lru[pos] = mb
	c.order = append(c.order, pos)
}

// metaReader is a cursor over the logical metadata stream formed by
// concatenating metablocks starting at a given (block, offset) MetadataRef,
// used to decode inodes and directory entries that may straddle a
// metablock boundary.
type metaReader struct {
	cache *metablockCache
	block int64
	off   int
	cur   metablock
}

func newMetaReader(cache *metablockCache, ref MetadataRef) (*metaReader, error) {
	mb, err := cache.get(ref.Block)
	if err != nil {
		return nil, err
	}
	return &metaReader{cache: cache, block: ref.Block, off: ref.Offset, cur: mb}, nil
}

// pos reports the MetadataRef the reader is currently positioned at.
func (r *metaReader) pos() MetadataRef { return MetadataRef{Block: r.block, Offset: r.off} }

func (r *metaReader) read(p []byte) error {
	n := 0
	for n < len(p) {
		if r.off >= len(r.cur.data) {
			mb, err := r.cache.get(r.cur.nextBlockStart)
			if err != nil {
				return err
			}
			r.block = r.cur.nextBlockStart
			r.off = 0
			r.cur = mb
			if len(r.cur.data) == 0 {
				return fmt.Errorf("squashfs: metadata stream exhausted: %w", vdiskerr.ErrIO)
			}
		}
		copied := copy(p[n:], r.cur.data[r.off:])
		n += copied
		r.off += copied
	}
	return nil
}

// dataBlock is one resident decompressed (or raw, if stored uncompressed)
// data-block cache entry.
type dataBlock struct {
	data []byte
}

// dataBlockCache is the fixed-size LRU cache of decompressed file data
// blocks, sized to the superblock's block size, per spec.md §4.3.
type dataBlockCache struct {
	stream vio.SparseStream
	lru    map[int64]dataBlock
	order  []int64
}

func newDataBlockCache(stream vio.SparseStream) *dataBlockCache {
	return &dataBlockCache{stream: stream, lru: make(map[int64]dataBlock)}
}

// get reads the data block at pos with the given on-disk length word
// (low 24 bits = on-disk length, bit 24 clear = compressed), per spec.md
// §4.3.
func (c *dataBlockCache) get(pos int64, lengthWord uint32) ([]byte, error) {
	if blk, ok := c.lru[pos]; ok {
		for i, p := range c.order {
			if p == pos {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		c.order = append(c.order, pos)
		return blk.data, nil
	}

	readLen := lengthWord & 0xFFFFFF
	compressed := lengthWord&0x1000000 == 0

	raw := make([]byte, readLen)
	if err := vio.ReadFull(c.stream, raw, pos); err != nil {
		return nil, fmt.Errorf("squashfs: reading data block at %d: %w", pos, err)
	}

	data := raw
	if compressed {
		var err error
		data, err = inflate(raw)
		if err != nil {
			return nil, err
		}
	}

	if len(c.order) >= dataBlockCacheEntries {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.lru, evict)
	}
	c.lru[pos] = dataBlock{data: data}
	c.order = append(c.order, pos)

	return data, nil
}
