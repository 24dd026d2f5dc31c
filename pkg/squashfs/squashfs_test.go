package squashfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/vdiskfs/pkg/vio"
)

// imageBuilder assembles a synthetic SquashFS image byte-by-byte so tests
// can exercise the real decode path without a real mksquashfs binary.
type imageBuilder struct {
	buf []byte
}

func (b *imageBuilder) pos() int64 { return int64(len(b.buf)) }

func (b *imageBuilder) appendRaw(data []byte) int64 {
	pos := b.pos()
	b.buf = append(b.buf, data...)
	return pos
}

// appendMetablock writes an uncompressed metablock (prelude high bit set)
// and returns the absolute offset of its prelude.
func (b *imageBuilder) appendMetablock(content []byte) int64 {
	pos := b.pos()
	prelude := make([]byte, 2)
	binary.LittleEndian.PutUint16(prelude, uint16(len(content))|0x8000)
	b.buf = append(b.buf, prelude...)
	b.buf = append(b.buf, content...)
	return pos
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func i16(v int16) []byte  { return u16(uint16(v)) }

func encodeCommon(c Common) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint16(out[0:2], c.Type)
	binary.LittleEndian.PutUint16(out[2:4], c.Mode)
	binary.LittleEndian.PutUint16(out[4:6], c.UIDIndex)
	binary.LittleEndian.PutUint16(out[6:8], c.GIDIndex)
	binary.LittleEndian.PutUint32(out[8:12], c.MTime)
	binary.LittleEndian.PutUint32(out[12:16], c.InodeNumber)
	return out
}

// buildSimpleImage builds a one-directory, one-file image: root ("/")
// contains "hello.txt" with content "hello world".
func buildSimpleImage(t *testing.T) (*vio.MemStream, int64) {
	t.Helper()
	const blockSize = 131072
	content := []byte("hello world")

	b := &imageBuilder{}
	b.buf = make([]byte, SuperblockSize) // superblock patched in below

	dataBlockPos := b.appendRaw(content)
	dataLengthWord := uint32(len(content)) | 0x1000000 // uncompressed

	// File inode (inode number 2), in its own inode-table metablock.
	fileInodeBuf := append([]byte{}, encodeCommon(Common{Type: typeBasicFile, InodeNumber: 2})...)
	fileInodeBuf = append(fileInodeBuf, u32(uint32(dataBlockPos))...) // start block
	fileInodeBuf = append(fileInodeBuf, u32(NoFragment)...)          // fragment
	fileInodeBuf = append(fileInodeBuf, u32(0)...)                   // frag offset
	fileInodeBuf = append(fileInodeBuf, u32(uint32(len(content)))...)
	fileInodeBuf = append(fileInodeBuf, u32(dataLengthWord)...) // one block-length entry

	inodeTableStart := b.pos()
	fileMetablockPos := b.appendMetablock(fileInodeBuf)
	fileInodeOffset := uint16(0)

	// Root directory inode, in a second inode-table metablock.
	rootDirBuf := append([]byte{}, encodeCommon(Common{Type: typeBasicDirectory, InodeNumber: 1})...)
	rootDirBuf = append(rootDirBuf, u32(0)...) // dir start block (relative; the listing is the directory table's first metablock)
	rootDirBuf = append(rootDirBuf, u32(1)...) // nlink
	// dir listing size: header(12)+record(8)+name(9) + 3 = 32
	name := "hello.txt"
	dirListing := append([]byte{}, u32(0)...)                             // header.Count (0 => 1 entry)
	dirListing = append(dirListing, u32(uint32(fileMetablockPos-inodeTableStart))...) // header.StartBlock (relative)
	dirListing = append(dirListing, u32(2)...)                            // header.InodeNumberBase
	dirListing = append(dirListing, u16(fileInodeOffset)...)              // record.Offset
	dirListing = append(dirListing, i16(0)...)                            // record.InodeDelta
	dirListing = append(dirListing, u16(typeBasicFile)...)                // record.Type
	dirListing = append(dirListing, u16(uint16(len(name)-1))...)          // record.NameSize
	dirListing = append(dirListing, []byte(name)...)

	rootDirBuf = append(rootDirBuf, u16(uint16(len(dirListing)+3))...) // file_size
	rootDirBuf = append(rootDirBuf, u16(0)...)                         // dir offset
	rootDirBuf = append(rootDirBuf, u32(0)...)                         // parent inode

	rootMetablockPos := b.appendMetablock(rootDirBuf)
	rootInodeRef := MetadataRef{Block: rootMetablockPos - inodeTableStart, Offset: 0}

	dirTableStart := b.pos()
	dirMetablockPos := b.appendMetablock(dirListing)
	_ = dirMetablockPos // relative offset 0 within the directory table

	fragTableStart := b.pos()
	idTableStart, idPointerPos := b.pos(), int64(0)
	{
		// id table: one pointer + one metablock holding a single 4-byte id record (0).
		idRecordMetablockPos := b.pos() + 8
		idPointerPos = idRecordMetablockPos
		ptr := make([]byte, 8)
		binary.LittleEndian.PutUint64(ptr, uint64(idRecordMetablockPos))
		b.appendRaw(ptr)
		b.appendMetablock(u32(0))
	}
	_ = idPointerPos

	sb := Superblock{
		BlockSize:         blockSize,
		CompressionType:   compressionZlib,
		Smajor:            supportedMajor,
		NoIDs:             1,
		RootInode:         rootInodeRef,
		IDTableStart:      idTableStart,
		XattrIDTableStart: noXattrs,
		InodeTableStart:   inodeTableStart,
		DirTableStart:     dirTableStart,
		FragTableStart:    fragTableStart,
		ExportTableStart:  -1,
	}
	copy(b.buf[:SuperblockSize], EncodeSuperblock(sb))

	return vio.NewMemStreamFromBytes(b.buf), int64(len(content))
}

func TestOpenAndReadRootDirectory(t *testing.T) {
	disk, _ := buildSimpleImage(t)
	r, err := Open(disk, nil)
	require.NoError(t, err)

	root, err := r.RootInode()
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, root.Kind)

	entries, err := r.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Name)
	assert.Equal(t, uint32(2), entries[0].InodeNumber)
}

func TestReadFileContent(t *testing.T) {
	disk, contentLen := buildSimpleImage(t)
	r, err := Open(disk, nil)
	require.NoError(t, err)

	root, err := r.RootInode()
	require.NoError(t, err)
	entries, err := r.ReadDir(root)
	require.NoError(t, err)

	fileInode, err := r.Inode(entries[0].InodeRef)
	require.NoError(t, err)
	assert.Equal(t, KindRegular, fileInode.Kind)
	assert.Equal(t, contentLen, fileInode.Size)

	buf := make([]byte, contentLen)
	n, err := r.ReadFile(fileInode, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, int(contentLen), n)
	assert.Equal(t, "hello world", string(buf))
}

func TestReadFilePartial(t *testing.T) {
	disk, _ := buildSimpleImage(t)
	r, err := Open(disk, nil)
	require.NoError(t, err)

	root, err := r.RootInode()
	require.NoError(t, err)
	entries, err := r.ReadDir(root)
	require.NoError(t, err)
	fileInode, err := r.Inode(entries[0].InodeRef)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := r.ReadFile(fileInode, 6, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
}

func TestParseSuperblockRejectsWrongMajor(t *testing.T) {
	sb := Superblock{Smajor: 3, CompressionType: compressionZlib, XattrIDTableStart: noXattrs}
	buf := EncodeSuperblock(sb)
	_, err := ParseSuperblock(buf)
	assert.Error(t, err)
}

func TestParseSuperblockRejectsXattrs(t *testing.T) {
	sb := Superblock{Smajor: supportedMajor, CompressionType: compressionZlib, XattrIDTableStart: 1234}
	buf := EncodeSuperblock(sb)
	_, err := ParseSuperblock(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x4d2")
}
