package registry

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// keyNode is the decoded form of an "nk" cell: a registry key, per
// spec.md §4.5. The root key's Name is empty and handled specially by the
// hive (it has no meaningful name of its own).
type keyNode struct {
	index int64

	root     bool
	volatile bool
	symlink  bool

	parent       int32
	subKeys      int32
	numSubKeys   uint32
	valueList    int32
	numValues    uint32
	security     int32
	className    int32
	classNameLen uint32

	timestamp uint64 // Windows FILETIME, 100ns ticks since 1601-01-01 UTC

	maxNameLen, maxClassLen, maxValueName, maxValueData uint32

	name string
}

func decodeKeyNode(idx int64, buf []byte) (keyNode, error) {
	if len(buf) < nkFixedHeaderSize || string(buf[0:2]) != string(sigNK[:]) {
		return keyNode{}, fmt.Errorf("registry: cell %#x is not an nk cell: %w", idx, vdiskerr.ErrCorrupt)
	}
	flags := readU16(buf, nkOffFlags)
	nameLen := int(readU16(buf, nkOffNameLen))
	if nkFixedHeaderSize+nameLen > len(buf) {
		return keyNode{}, fmt.Errorf("registry: nk cell %#x name overruns payload: %w", idx, vdiskerr.ErrCorrupt)
	}
	nameBuf := buf[nkFixedHeaderSize : nkFixedHeaderSize+nameLen]

	var name string
	if flags&nkFlagNameComp != 0 {
		name = string(nameBuf)
	} else {
		name = decodeUTF16Name(nameBuf)
	}

	return keyNode{
		index:        idx,
		root:         flags&nkFlagRoot != 0,
		parent:       readI32(buf, nkOffParent),
		subKeys:      readI32(buf, nkOffSubkeyList),
		numSubKeys:   readU32(buf, nkOffSubkeyCount),
		valueList:    readI32(buf, nkOffValueList),
		numValues:    readU32(buf, nkOffValueCount),
		security:     readI32(buf, nkOffSecurity),
		className:    readI32(buf, nkOffClassName),
		classNameLen: uint32(readU16(buf, nkOffClassLen)),
		timestamp:    readU64(buf, nkOffLastWrite),
		maxNameLen:   readU32(buf, nkOffMaxNameLen),
		maxClassLen:  readU32(buf, nkOffMaxClassLen),
		maxValueName: readU32(buf, nkOffMaxValueName),
		maxValueData: readU32(buf, nkOffMaxValueData),
		name:         name,
	}, nil
}

func encodeKeyNode(k keyNode) []byte {
	nameBytes := []byte(k.name)
	buf := make([]byte, nkFixedHeaderSize+len(nameBytes))
	copy(buf[0:2], sigNK[:])

	flags := uint16(nkFlagNameComp) // names are always ASCII-compressed on write
	if k.root {
		flags |= nkFlagRoot
	}
	putU16(buf, nkOffFlags, flags)
	putU64(buf, nkOffLastWrite, k.timestamp)
	putI32(buf, nkOffParent, k.parent)
	putU32(buf, nkOffSubkeyCount, k.numSubKeys)
	putI32(buf, nkOffSubkeyList, k.subKeys)
	putU32(buf, nkOffValueCount, k.numValues)
	putI32(buf, nkOffValueList, k.valueList)
	putI32(buf, nkOffSecurity, k.security)
	putI32(buf, nkOffClassName, k.className)
	putU32(buf, nkOffMaxNameLen, k.maxNameLen)
	putU32(buf, nkOffMaxClassLen, k.maxClassLen)
	putU32(buf, nkOffMaxValueName, k.maxValueName)
	putU32(buf, nkOffMaxValueData, k.maxValueData)
	putU16(buf, nkOffNameLen, uint16(len(nameBytes)))
	putU16(buf, nkOffClassLen, uint16(k.classNameLen))
	copy(buf[nkOffName:], nameBytes)
	return buf
}

// valueCell is the decoded form of a "vk" cell.
type valueCell struct {
	index int64

	name     string
	dataType uint32

	inline     bool
	dataLength uint32  // logical byte length of the value
	dataIndex  int32   // cell index, when not inline
	inlineData [4]byte // raw little-endian bytes, when inline
}

func decodeValueCell(idx int64, buf []byte) (valueCell, error) {
	if len(buf) < vkFixedHeaderSize || string(buf[0:2]) != string(sigVK[:]) {
		return valueCell{}, fmt.Errorf("registry: cell %#x is not a vk cell: %w", idx, vdiskerr.ErrCorrupt)
	}
	nameLen := int(readU16(buf, vkOffNameLen))
	if vkFixedHeaderSize+nameLen > len(buf) {
		return valueCell{}, fmt.Errorf("registry: vk cell %#x name overruns payload: %w", idx, vdiskerr.ErrCorrupt)
	}
	nameBuf := buf[vkFixedHeaderSize : vkFixedHeaderSize+nameLen]
	flags := readU16(buf, vkOffFlags)

	var name string
	if flags&vkFlagNameCompSmall != 0 {
		name = string(nameBuf)
	} else {
		name = decodeUTF16Name(nameBuf)
	}

	rawLen := readU32(buf, vkOffDataLen)
	v := valueCell{
		index:    idx,
		name:     name,
		dataType: readU32(buf, vkOffType),
	}
	if rawLen&vkDataInlineBit != 0 {
		v.inline = true
		v.dataLength = rawLen & vkDataLengthMask
		putU32(v.inlineData[:], 0, readU32(buf, vkOffDataOffset))
	} else {
		v.dataLength = rawLen
		v.dataIndex = readI32(buf, vkOffDataOffset)
	}
	return v, nil
}

func encodeValueCell(v valueCell) []byte {
	nameBytes := []byte(v.name)
	buf := make([]byte, vkFixedHeaderSize+len(nameBytes))
	copy(buf[0:2], sigVK[:])
	putU16(buf, vkOffNameLen, uint16(len(nameBytes)))
	putU32(buf, vkOffType, v.dataType)
	putU16(buf, vkOffFlags, vkFlagNameCompSmall)

	if v.inline {
		putU32(buf, vkOffDataLen, v.dataLength|vkDataInlineBit)
		putU32(buf, vkOffDataOffset, readU32(v.inlineData[:], 0))
	} else {
		putU32(buf, vkOffDataLen, v.dataLength)
		putI32(buf, vkOffDataOffset, v.dataIndex)
	}
	copy(buf[vkOffName:], nameBytes)
	return buf
}

// subKeyListEntry is one (child, hash) pair in an lf/lh list, or a bare
// child index in an li/ri list (Hash is unused there).
type subKeyListEntry struct {
	Child int32
	Hash  uint32
}

// subKeyList is the decoded form of an lh/lf/li/ri cell.
type subKeyList struct {
	index   int64
	tag     [2]byte
	hashed  bool // lf or lh: entries carry a name hash
	entries []subKeyListEntry
}

func decodeSubKeyList(idx int64, buf []byte) (subKeyList, error) {
	if len(buf) < listOffItems {
		return subKeyList{}, fmt.Errorf("registry: cell %#x too small for a subkey list: %w", idx, vdiskerr.ErrCorrupt)
	}
	var tag [2]byte
	copy(tag[:], buf[0:2])
	hashed := tag == sigLF || tag == sigLH
	entrySize := listEntrySizeIndirect
	if hashed {
		entrySize = listEntrySizeHashed
	}
	if tag != sigLF && tag != sigLH && tag != sigLI && tag != sigRI {
		return subKeyList{}, fmt.Errorf("registry: cell %#x has unknown list tag %q: %w", idx, tag, vdiskerr.ErrCorrupt)
	}

	count := int(readU16(buf, listOffCount))
	entries := make([]subKeyListEntry, 0, count)
	for i := 0; i < count; i++ {
		off := listOffItems + i*entrySize
		if off+entrySize > len(buf) {
			return subKeyList{}, fmt.Errorf("registry: cell %#x list entries overrun payload: %w", idx, vdiskerr.ErrCorrupt)
		}
		e := subKeyListEntry{Child: readI32(buf, off)}
		if hashed {
			e.Hash = readU32(buf, off+4)
		}
		entries = append(entries, e)
	}
	return subKeyList{index: idx, tag: tag, hashed: hashed, entries: entries}, nil
}

func encodeSubKeyList(l subKeyList) []byte {
	entrySize := listEntrySizeIndirect
	if l.hashed {
		entrySize = listEntrySizeHashed
	}
	buf := make([]byte, listOffItems+len(l.entries)*entrySize)
	copy(buf[0:2], l.tag[:])
	putU16(buf, listOffCount, uint16(len(l.entries)))
	for i, e := range l.entries {
		off := listOffItems + i*entrySize
		putI32(buf, off, e.Child)
		if l.hashed {
			putU32(buf, off+4, e.Hash)
		}
	}
	return buf
}

// lhHash is the "37-multiplicative-rolling upper-case hash" spec.md §4.5
// specifies for "lh" subkey lists.
func lhHash(name string) uint32 {
	var h uint32
	for _, r := range strings.ToUpper(name) {
		h = h*37 + uint32(r)
	}
	return h
}

// lfHash packs the first four upper-cased name bytes into a uint32, per
// spec.md §4.5's "lf" hash rule.
func lfHash(name string) uint32 {
	u := strings.ToUpper(name)
	var b [4]byte
	copy(b[:], u)
	return readU32(b[:], 0)
}

// securityCell is the decoded form of an "sk" cell: one node in the
// doubly-linked ring of shared security descriptors.
type securityCell struct {
	index      int64
	flink      int32
	blink      int32
	refCount   uint32
	descriptor []byte
}

func decodeSecurityCell(idx int64, buf []byte) (securityCell, error) {
	if len(buf) < skHeaderSize || string(buf[0:2]) != string(sigSK[:]) {
		return securityCell{}, fmt.Errorf("registry: cell %#x is not an sk cell: %w", idx, vdiskerr.ErrCorrupt)
	}
	descLen := int(readU32(buf, skOffDescLen))
	if skHeaderSize+descLen > len(buf) {
		return securityCell{}, fmt.Errorf("registry: sk cell %#x descriptor overruns payload: %w", idx, vdiskerr.ErrCorrupt)
	}
	return securityCell{
		index:      idx,
		flink:      readI32(buf, skOffFlink),
		blink:      readI32(buf, skOffBlink),
		refCount:   readU32(buf, skOffRefCount),
		descriptor: append([]byte{}, buf[skHeaderSize:skHeaderSize+descLen]...),
	}, nil
}

func encodeSecurityCell(s securityCell) []byte {
	buf := make([]byte, skHeaderSize+len(s.descriptor))
	copy(buf[0:2], sigSK[:])
	putI32(buf, skOffFlink, s.flink)
	putI32(buf, skOffBlink, s.blink)
	putU32(buf, skOffRefCount, s.refCount)
	putU32(buf, skOffDescLen, uint32(len(s.descriptor)))
	copy(buf[skHeaderSize:], s.descriptor)
	return buf
}

func decodeUTF16Name(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = readU16(b, i*2)
	}
	return string(utf16.Decode(units))
}
