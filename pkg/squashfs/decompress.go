package squashfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// inflate decompresses a DEFLATE/zlib stream via klauspost/compress's zlib
// reader, spec.md §1's "DEFLATE/Zlib decompressor" collaborator.
func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("squashfs: opening zlib stream: %w", vdiskerr.ErrCorrupt)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("squashfs: inflating block: %w", vdiskerr.ErrCorrupt)
	}
	return out, nil
}
