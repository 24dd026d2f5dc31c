package vio

import (
	"fmt"
	"io"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// SubStream is a SparseStream windowed onto [base+Offset, base+Offset+Size)
// of an underlying stream. It is how a partition table hands a bounded
// view of the whole disk to a filesystem reader, generalizing the
// io.LimitReader composition vdecompiler.IO.PartitionReader builds
// (pkg/vdecompiler/io.go) into a full read+write+extents seam.
type SubStream struct {
	base   SparseStream
	offset int64
	size   int64
}

// NewSubStream bounds base to the half-open byte range [offset, offset+size).
func NewSubStream(base SparseStream, offset, size int64) (*SubStream, error) {
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("substream: negative offset or size: %w", vdiskerr.ErrBounds)
	}
	baseLen, err := base.Length()
	if err != nil {
		return nil, err
	}
	if offset+size > baseLen {
		return nil, fmt.Errorf("substream: range [%d,%d) exceeds base length %d: %w",
			offset, offset+size, baseLen, vdiskerr.ErrBounds)
	}
	return &SubStream{base: base, offset: offset, size: size}, nil
}

func (s *SubStream) Length() (int64, error) { return s.size, nil }

func (s *SubStream) clamp(p []byte, off int64) ([]byte, error) {
	if off < 0 {
		return nil, fmt.Errorf("substream: negative offset: %w", vdiskerr.ErrBounds)
	}
	if off >= s.size {
		return nil, io.EOF
	}
	if off+int64(len(p)) > s.size {
		p = p[:s.size-off]
	}
	return p, nil
}

func (s *SubStream) ReadAt(p []byte, off int64) (int, error) {
	clamped, err := s.clamp(p, off)
	if err != nil {
		return 0, err
	}
	short := len(clamped) < len(p)
	n, err := s.base.ReadAt(clamped, s.offset+off)
	if err != nil && err != io.EOF {
		return n, err
	}
	if short || n < len(clamped) {
		return n, io.EOF
	}
	return n, nil
}

func (s *SubStream) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("substream: negative offset: %w", vdiskerr.ErrBounds)
	}
	if off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("substream: write exceeds window: %w", vdiskerr.ErrBounds)
	}
	return s.base.WriteAt(p, s.offset+off)
}

func (s *SubStream) SetLength(n int64) error {
	return fmt.Errorf("substream: resizing a partition window: %w", vdiskerr.ErrNotSupported)
}

func (s *SubStream) Extents(start, length int64) ([]Extent, error) {
	exts, err := s.base.Extents(s.offset+start, length)
	if err != nil {
		return nil, err
	}
	out := make([]Extent, 0, len(exts))
	for _, e := range exts {
		out = append(out, Extent{Start: e.Start - s.offset, Length: e.Length})
	}
	return out, nil
}
