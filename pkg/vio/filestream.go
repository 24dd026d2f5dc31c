package vio

import "os"

// FileStream adapts an *os.File to SparseStream, the way vdecompiler.Open
// adapts an os.File to its IO type: it carries no hole-tracking of its own
// (a plain disk image file has none to report), so Extents always answers
// with the single requested range.
type FileStream struct {
	f *os.File
}

// OpenFileStream opens path for reading and writing as a FileStream.
func OpenFileStream(path string) (*FileStream, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &FileStream{f: f}, nil
}

// CreateFileStream creates (or truncates) path as a FileStream pre-sized to
// n bytes.
func CreateFileStream(path string, n int64) (*FileStream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(n); err != nil {
		f.Close()
		return nil, err
	}
	return &FileStream{f: f}, nil
}

func (fs *FileStream) Length() (int64, error) {
	info, err := fs.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (fs *FileStream) ReadAt(p []byte, off int64) (int, error) {
	return fs.f.ReadAt(p, off)
}

func (fs *FileStream) WriteAt(p []byte, off int64) (int, error) {
	return fs.f.WriteAt(p, off)
}

func (fs *FileStream) SetLength(n int64) error {
	return fs.f.Truncate(n)
}

func (fs *FileStream) Extents(start, length int64) ([]Extent, error) {
	return []Extent{{Start: start, Length: length}}, nil
}

// Close releases the underlying file handle.
func (fs *FileStream) Close() error {
	return fs.f.Close()
}
