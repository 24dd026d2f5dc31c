package vio

import "io"

// MemStream is an in-memory SparseStream. It tracks no real holes (every
// byte within its length is reported stored); it exists so tests can stand
// in for a real disk image without touching the filesystem, the way
// vio.CustomFile lets tests stand in for a real os.File.
type MemStream struct {
	buf []byte
}

// NewMemStream returns a MemStream pre-sized to n zero bytes.
func NewMemStream(n int64) *MemStream {
	return &MemStream{buf: make([]byte, n)}
}

// NewMemStreamFromBytes wraps an existing byte slice directly (no copy).
func NewMemStreamFromBytes(b []byte) *MemStream {
	return &MemStream{buf: b}
}

// Bytes returns the stream's current backing slice.
func (m *MemStream) Bytes() []byte { return m.buf }

func (m *MemStream) Length() (int64, error) {
	return int64(len(m.buf)), nil
}

func (m *MemStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemStream) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[off:], p)
	return n, nil
}

func (m *MemStream) SetLength(n int64) error {
	if n <= int64(len(m.buf)) {
		m.buf = m.buf[:n]
		return nil
	}
	grown := make([]byte, n)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *MemStream) Extents(start, length int64) ([]Extent, error) {
	if start < 0 || length <= 0 {
		return nil, nil
	}
	end := start + length
	if end > int64(len(m.buf)) {
		end = int64(len(m.buf))
	}
	if end <= start {
		return nil, nil
	}
	return []Extent{{Start: start, Length: end - start}}, nil
}
