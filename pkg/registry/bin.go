package registry

import (
	"fmt"
	"sort"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// freeRun is one span of unallocated bytes within a bin, expressed as a
// cell index (offset relative to the start of the bin region) and a byte
// length that includes the 4-byte cell-size header.
type freeRun struct {
	offset int64
	length int64
}

// binInfo describes one hbin and its free-space bookkeeping. Allocation
// scans bins' free-list, per spec.md §4.5's allocate(size) policy; this is
// a per-bin sorted-run list rather than the whole-disk bitmap
// pkg/ext/block-usage.go uses for ext4 free-block accounting, since
// registry allocation is byte-granular within a single 4 KiB-aligned bin
// rather than block-granular across a whole volume.
type binInfo struct {
	fileOffset int64 // cell index of this bin's first byte
	size       int64
	free       []freeRun // sorted by offset, kept coalesced
}

// scanBins walks the bin region (from cell index 0 to header.dataSize())
// building the bin list and, for each bin, its free-run list.
func (h *Hive) scanBins() error {
	dataSize := int64(h.header.dataSize())
	h.bins = nil

	pos := int64(0)
	for pos < dataSize {
		buf := make([]byte, binHeaderSize)
		if err := vio.ReadFull(h.stream, buf, headerSize+pos); err != nil {
			return fmt.Errorf("registry: reading bin header at %#x: %w", pos, err)
		}
		if string(buf[offBinSignature:offBinSignature+4]) != string(hbinSignature[:]) {
			return fmt.Errorf("registry: bad hbin signature at %#x: %w", pos, vdiskerr.ErrCorrupt)
		}
		size := int64(readU32(buf, offBinSize))
		if size <= 0 || size%binAlignment != 0 {
			return fmt.Errorf("registry: invalid bin size %#x at %#x: %w", size, pos, vdiskerr.ErrCorrupt)
		}

		bin := binInfo{fileOffset: pos, size: size}
		if err := h.scanBinCells(&bin); err != nil {
			return err
		}
		h.bins = append(h.bins, bin)

		pos += size
	}
	return nil
}

// scanBinCells walks every cell in bin, recording the free runs.
func (h *Hive) scanBinCells(bin *binInfo) error {
	pos := int64(binHeaderSize)
	for pos < bin.size {
		var szbuf [4]byte
		if err := vio.ReadFull(h.stream, szbuf[:], headerSize+bin.fileOffset+pos); err != nil {
			return fmt.Errorf("registry: reading cell size at %#x: %w", bin.fileOffset+pos, err)
		}
		size := readI32(szbuf[:], 0)
		length := int64(size)
		if length < 0 {
			length = -length
		}
		if length < cellHeaderSize || pos+length > bin.size {
			return fmt.Errorf("registry: cell at %#x overruns bin: %w", bin.fileOffset+pos, vdiskerr.ErrCorrupt)
		}
		if size > 0 {
			bin.free = append(bin.free, freeRun{offset: bin.fileOffset + pos, length: length})
		}
		pos += length
	}
	return nil
}

// findBin returns the bin containing cell index idx.
func (h *Hive) findBin(idx int64) (*binInfo, error) {
	for i := range h.bins {
		b := &h.bins[i]
		if idx >= b.fileOffset && idx < b.fileOffset+b.size {
			return b, nil
		}
	}
	return nil, fmt.Errorf("registry: cell index %#x not within any bin: %w", idx, vdiskerr.ErrBounds)
}

// allocate reserves a cell of at least size bytes (including the 4-byte
// header) and returns its cell index. size is rounded up to a multiple of
// 8 and must end up >= 8, per spec.md §4.5.
func (h *Hive) allocate(size int64) (int64, error) {
	need := roundUp8(size)
	if need < 8 {
		need = 8
	}

	for i := range h.bins {
		b := &h.bins[i]
		for j, run := range b.free {
			if run.length < need {
				continue
			}
			idx := run.offset
			if run.length == need {
				b.free = append(b.free[:j], b.free[j+1:]...)
			} else {
				b.free[j] = freeRun{offset: run.offset + need, length: run.length - need}
			}
			if err := h.writeCellSize(idx, -need); err != nil {
				return 0, err
			}
			return idx, nil
		}
	}

	return h.growAndAllocate(need)
}

// growAndAllocate appends a new bin sized to the next 4 KiB multiple
// covering size+32 bytes of overhead, zeroes its body save a single
// free-run header, then retries the allocation against it.
func (h *Hive) growAndAllocate(size int64) (int64, error) {
	binSize := ((size + 32 + binAlignment - 1) / binAlignment) * binAlignment

	var newBinOffset int64
	if n := len(h.bins); n > 0 {
		last := h.bins[n-1]
		newBinOffset = last.fileOffset + last.size
	}

	body := make([]byte, binSize)
	copy(body[offBinSignature:], hbinSignature[:])
	putU32(body, offBinFileOff, uint32(newBinOffset))
	putU32(body, offBinSize, uint32(binSize))
	putI32(body, binHeaderSize, int32(binSize-binHeaderSize))

	if _, err := h.stream.WriteAt(body, headerSize+newBinOffset); err != nil {
		return 0, fmt.Errorf("registry: writing new bin: %w", err)
	}

	bin := binInfo{fileOffset: newBinOffset, size: binSize, free: []freeRun{{
		offset: newBinOffset + binHeaderSize,
		length: binSize - binHeaderSize,
	}}}
	h.bins = append(h.bins, bin)

	h.header.setDataSize(uint32(newBinOffset + binSize))
	if err := h.bumpSequenceAndWrite(); err != nil {
		return 0, err
	}

	return h.allocate(size)
}

// free marks a cell as unallocated and coalesces it with any adjoining
// free runs in the same bin.
func (h *Hive) free(idx int64) error {
	bin, err := h.findBin(idx)
	if err != nil {
		return err
	}
	var szbuf [4]byte
	if err := vio.ReadFull(h.stream, szbuf[:], headerSize+idx); err != nil {
		return err
	}
	length := -readI32(szbuf[:], 0)
	if length <= 0 {
		return fmt.Errorf("registry: double free at cell %#x: %w", idx, vdiskerr.ErrCorrupt)
	}
	if err := h.writeCellSize(idx, length); err != nil {
		return err
	}

	bin.free = append(bin.free, freeRun{offset: idx, length: length})
	sort.Slice(bin.free, func(i, j int) bool { return bin.free[i].offset < bin.free[j].offset })

	merged := bin.free[:0]
	for _, run := range bin.free {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.offset+last.length == run.offset {
				last.length += run.length
				continue
			}
		}
		merged = append(merged, run)
	}
	bin.free = merged
	return nil
}

func (h *Hive) writeCellSize(idx int64, size int64) error {
	var buf [4]byte
	putI32(buf[:], 0, int32(size))
	_, err := h.stream.WriteAt(buf[:], headerSize+idx)
	return err
}

func roundUp8(n int64) int64 { return (n + 7) &^ 7 }
