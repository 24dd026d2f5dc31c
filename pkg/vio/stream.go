// Package vio provides the sparse-stream abstraction that every format
// reader in this module is built on, plus a block-oriented read cache for
// it. It replaces the stream-inheritance hierarchies of the reference
// implementation with a single capability interface, per spec.md §9.
package vio

import (
	"io"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// Extent describes a contiguous range of stored (non-hole) bytes within a
// stream, expressed as [Start, Start+Length).
type Extent struct {
	Start  int64
	Length int64
}

// SparseStream is a seekable byte stream with a known length and a notion
// of which byte ranges actually hold data. Concrete backends (an OS file, a
// memory buffer, a bounded sub-stream, a block cache) all implement this
// single interface; no virtual-dispatch class chain is required.
type SparseStream interface {
	// Length returns the total size of the stream in bytes.
	Length() (int64, error)

	// ReadAt reads len(p) bytes starting at off. It returns the number of
	// bytes actually read. Reading past the end of the stream returns
	// (n, io.EOF) the first time, exactly like io.ReaderAt, with n < len(p).
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes p at off, write-through to any underlying medium.
	WriteAt(p []byte, off int64) (n int, err error)

	// SetLength truncates or extends the stream to exactly n bytes.
	SetLength(n int64) error

	// Extents returns the stored byte ranges intersecting [start, start+length).
	// A backend with no sparse-hole tracking may report the whole requested
	// range as a single extent.
	Extents(start, length int64) ([]Extent, error)
}

// Flusher is implemented by streams that buffer writes and need an explicit
// flush before the caller can rely on durability.
type Flusher interface {
	Flush() error
}

// Closer is implemented by streams that own an underlying resource (an OS
// file handle, a socket) that must be released deterministically.
type Closer interface {
	Close() error
}

// ReadFull reads exactly len(p) bytes from s at off, or returns an error.
// An error from ReadAt other than io.EOF is returned as is; any short
// count, including one ReadAt reports together with io.EOF, yields
// vdiskerr.ErrIO.
func ReadFull(s SparseStream, p []byte, off int64) error {
	n, err := s.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return err
	}
	if n < len(p) {
		return vdiskerr.ErrIO
	}
	return nil
}
