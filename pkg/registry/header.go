package registry

import (
	"bytes"
	"fmt"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// baseHeader is the 4 KiB REGF-style header shared by a hive file and each
// of its transaction log files, per spec.md §4.5.
type baseHeader struct {
	raw [headerSize]byte
}

func parseBaseHeader(buf []byte) (*baseHeader, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("registry: header truncated (%d bytes): %w", len(buf), vdiskerr.ErrParse)
	}
	h := &baseHeader{}
	copy(h.raw[:], buf[:headerSize])
	if !bytes.Equal(h.raw[offSignature:offSignature+4], regfSignature[:]) {
		return nil, fmt.Errorf("registry: bad regf signature: %w", vdiskerr.ErrParse)
	}
	return h, nil
}

func (h *baseHeader) sequence1() uint32  { return readU32(h.raw[:], offSequence1) }
func (h *baseHeader) sequence2() uint32  { return readU32(h.raw[:], offSequence2) }
func (h *baseHeader) rootCell() int32    { return readI32(h.raw[:], offRootCell) }
func (h *baseHeader) dataSize() uint32   { return readU32(h.raw[:], offDataSize) }
func (h *baseHeader) storedChecksum() uint32 { return readU32(h.raw[:], offChecksum) }

func (h *baseHeader) setSequence1(v uint32) { putU32(h.raw[:], offSequence1, v) }
func (h *baseHeader) setSequence2(v uint32) { putU32(h.raw[:], offSequence2, v) }
func (h *baseHeader) setRootCell(v int32)   { putI32(h.raw[:], offRootCell, v) }
func (h *baseHeader) setDataSize(v uint32)  { putU32(h.raw[:], offDataSize, v) }

// clean reports whether the hive's two sequence numbers agree, meaning no
// writer was interrupted mid-transaction.
func (h *baseHeader) clean() bool { return h.sequence1() == h.sequence2() }

// checksumOK recomputes the XOR checksum over the first 508 bytes and
// compares it to the stored value, including the Windows all-zero/all-one
// remapping.
func (h *baseHeader) checksumOK() bool {
	return regfChecksum(h.raw[:checksumRegionLen]) == h.storedChecksum()
}

// updateChecksum recomputes and stores the header checksum; callers must
// call this after any mutation and before writing the header back out.
func (h *baseHeader) updateChecksum() {
	putU32(h.raw[:], offChecksum, regfChecksum(h.raw[:checksumRegionLen]))
}

// regfChecksum computes the XOR of the first 127 little-endian DWORDs
// (508 bytes), remapping the two degenerate all-bits values the real
// format reserves.
func regfChecksum(head508 []byte) uint32 {
	var xor uint32
	for i := 0; i < checksumDwords; i++ {
		xor ^= readU32(head508, i*4)
	}
	switch xor {
	case 0xFFFFFFFF:
		return 0xFFFFFFFE
	case 0x00000000:
		return 0x00000001
	default:
		return xor
	}
}

func (h *baseHeader) bytes() []byte { return h.raw[:] }
