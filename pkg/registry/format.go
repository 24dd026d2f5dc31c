// Package registry implements the Windows Registry hive file format: the
// 4 KiB REGF header, the bin/cell allocator beneath it, the typed cells
// that make up the key/value tree, and LOG1/LOG2 transaction replay.
//
// Field offsets below are grounded on
// other_examples/1135ced3_joshuapare-hivekit__internal-format-consts.go.go;
// the header clean/dirty split and checksum algorithm follow
// other_examples/35d67505_joshuapare-hivekit__hive-base.go.go.
package registry

import "encoding/binary"

// REGF base-block layout (4 KiB header at the start of a hive or log file).
const (
	headerSize = 4096

	offSignature    = 0x000
	offSequence1    = 0x004
	offSequence2    = 0x008
	offTimestamp    = 0x00C
	offMajorVersion = 0x014
	offMinorVersion = 0x018
	offType         = 0x01C
	offFormat       = 0x020
	offRootCell     = 0x024
	offDataSize     = 0x028
	offClusters     = 0x02C
	offFileName     = 0x030
	fileNameSize    = 64
	offFlags        = 0x090
	offChecksum     = 0x1FC

	checksumRegionLen = 508
	checksumDwords    = 127
)

var regfSignature = [4]byte{'r', 'e', 'g', 'f'}

// Bin header layout.
const (
	binHeaderSize = 0x20
	binAlignment  = 0x1000

	offBinSignature = 0x00
	offBinFileOff   = 0x04
	offBinSize      = 0x08
)

var hbinSignature = [4]byte{'h', 'b', 'i', 'n'}

// Cell header: a single int32 size field precedes every cell payload.
// Negative means allocated (in use); positive means free.
const cellHeaderSize = 4

// Cell payload signatures (first two bytes of an allocated cell's data).
var (
	sigNK = [2]byte{'n', 'k'}
	sigVK = [2]byte{'v', 'k'}
	sigSK = [2]byte{'s', 'k'}
	sigLF = [2]byte{'l', 'f'}
	sigLH = [2]byte{'l', 'h'}
	sigLI = [2]byte{'l', 'i'}
	sigRI = [2]byte{'r', 'i'}
)

// nk (Key Node) field offsets, from joshuapare/hivekit's format consts.
const (
	nkOffFlags          = 0x02
	nkOffLastWrite      = 0x04
	nkOffParent         = 0x10
	nkOffSubkeyCount    = 0x14
	nkOffVolSubkeyCount = 0x18
	nkOffSubkeyList     = 0x1C
	nkOffVolSubkeyList  = 0x20
	nkOffValueCount     = 0x24
	nkOffValueList      = 0x28
	nkOffSecurity       = 0x2C
	nkOffClassName      = 0x30
	nkOffMaxNameLen     = 0x34
	nkOffMaxClassLen    = 0x38
	nkOffMaxValueName   = 0x3C
	nkOffMaxValueData   = 0x40
	nkOffNameLen        = 0x48
	nkOffClassLen       = 0x4A
	nkOffName           = 0x4C
	nkFixedHeaderSize   = nkOffName

	nkFlagRoot     = 0x0004
	nkFlagNameComp = 0x0020 // name stored as ASCII/Latin-1, not UTF-16LE
)

// vk (Value Key) field offsets.
const (
	vkOffNameLen        = 0x02
	vkOffDataLen        = 0x04
	vkOffDataOffset     = 0x08
	vkOffType           = 0x0C
	vkOffFlags          = 0x10
	vkOffName           = 0x14
	vkFixedHeaderSize   = vkOffName
	vkDataInlineBit     = 0x80000000
	vkDataLengthMask    = 0x7FFFFFFF
	vkFlagNameCompSmall = 0x0001
)

// sk (Security) field offsets.
const (
	skOffFlink      = 0x04
	skOffBlink      = 0x08
	skOffRefCount   = 0x0C
	skOffDescLen    = 0x10
	skOffDesc       = 0x14
	skHeaderSize    = skOffDesc
)

// Subkey list header, shared by lf/lh/li/ri.
const (
	listOffCount  = 0x02
	listOffItems  = 0x04
	listEntrySizeHashed   = 8 // lf/lh: cell index + hash, both uint32
	listEntrySizeIndirect = 4 // li/ri: cell index only
)

// Registry value type codes, per spec.md §4.5.
const (
	RegNone      = 0
	RegSZ        = 1
	RegExpandSZ  = 2
	RegBinary    = 3
	RegDword     = 4
	RegDwordBE   = 5
	RegLink      = 6
	RegMultiSZ   = 7
	RegQword     = 11
)

func readU16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func readU32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func readU64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }
func readI32(b []byte, off int) int32  { return int32(readU32(b, off)) }

func putU16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }
func putI32(b []byte, off int, v int32)  { putU32(b, off, uint32(v)) }
