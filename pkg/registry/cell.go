package registry

import (
	"fmt"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// cellSize returns the absolute on-disk size of the allocated cell at idx,
// including the 4-byte header, plus whether it is currently in use.
func (h *Hive) cellSize(idx int64) (length int64, inUse bool, err error) {
	var szbuf [4]byte
	if err := vio.ReadFull(h.stream, szbuf[:], headerSize+idx); err != nil {
		return 0, false, err
	}
	raw := readI32(szbuf[:], 0)
	if raw < 0 {
		return -int64(raw), true, nil
	}
	return int64(raw), false, nil
}

// readCell returns the payload bytes (everything after the 4-byte size
// header) of the allocated cell at idx.
func (h *Hive) readCell(idx int64) ([]byte, error) {
	length, inUse, err := h.cellSize(idx)
	if err != nil {
		return nil, err
	}
	if !inUse {
		return nil, fmt.Errorf("registry: cell %#x is free: %w", idx, vdiskerr.ErrCorrupt)
	}
	buf := make([]byte, length-cellHeaderSize)
	if err := vio.ReadFull(h.stream, buf, headerSize+idx+cellHeaderSize); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeCellPayload writes data as the payload of the existing allocated
// cell at idx, which must already be large enough.
func (h *Hive) writeCellPayload(idx int64, data []byte) error {
	_, err := h.stream.WriteAt(data, headerSize+idx+cellHeaderSize)
	return err
}

// newCell allocates a cell sized to hold data and writes data as its
// payload, returning the new cell's index.
func (h *Hive) newCell(data []byte) (int64, error) {
	idx, err := h.allocate(int64(len(data)) + cellHeaderSize)
	if err != nil {
		return 0, err
	}
	if err := h.writeCellPayload(idx, data); err != nil {
		return 0, err
	}
	return idx, nil
}

// updateCell rewrites the cell at idx with new payload data. If data fits
// within the cell's current allocation it is rewritten in place; otherwise,
// when canRelocate is true, a new cell is allocated, the old one freed, and
// the new index returned. With canRelocate false and an outgrown cell,
// update fails, per spec.md §4.5's update(cell, canRelocate).
func (h *Hive) updateCell(idx int64, data []byte, canRelocate bool) (int64, error) {
	length, inUse, err := h.cellSize(idx)
	if err != nil {
		return 0, err
	}
	if !inUse {
		return 0, fmt.Errorf("registry: updating a free cell %#x: %w", idx, vdiskerr.ErrCorrupt)
	}
	if int64(len(data))+cellHeaderSize <= length {
		if err := h.writeCellPayload(idx, data); err != nil {
			return 0, err
		}
		return idx, nil
	}
	if !canRelocate {
		return 0, fmt.Errorf("registry: relocation disabled for cell %#x: %w", idx, vdiskerr.ErrNotSupported)
	}
	newIdx, err := h.newCell(data)
	if err != nil {
		return 0, err
	}
	if err := h.free(idx); err != nil {
		return 0, err
	}
	return newIdx, nil
}

// cellTag returns the 2-byte type signature of the cell at idx.
func (h *Hive) cellTag(idx int64) ([2]byte, error) {
	var buf [2]byte
	if err := vio.ReadFull(h.stream, buf[:], headerSize+idx+cellHeaderSize); err != nil {
		return buf, err
	}
	return buf, nil
}
