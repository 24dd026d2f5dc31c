package main

import (
	"fmt"

	"github.com/vorteil/vdiskfs/pkg/vio"
)

// openImage opens path read-write (mirroring vdecompiler.Open's os.Open,
// widened since some of this module's tables support mutation) as a
// SparseStream, failing with a wrapped error rather than a bare stdlib one.
func openImage(path string) (*vio.FileStream, error) {
	fs, err := vio.OpenFileStream(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return fs, nil
}

// printableSize renders a byte count the way imageutil.PrintableSize does:
// a plain decimal count, the concern this CLI actually needs without
// pulling in the teacher's --numbers human/raw toggle machinery.
func printableSize(n int64) string {
	return fmt.Sprintf("%d", n)
}
