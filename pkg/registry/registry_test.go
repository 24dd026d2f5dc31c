package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// newBlankHive builds a minimal synthetic hive: a valid 4 KiB header
// followed by one 4 KiB bin holding a single root "nk" cell and one large
// free run covering the rest of the bin.
func newBlankHive(t *testing.T) (*vio.MemStream, int64, int64) {
	t.Helper()

	rootPayload := encodeKeyNode(keyNode{
		root:      true,
		parent:    -1,
		subKeys:   -1,
		valueList: -1,
		security:  -1,
		className: -1,
	})
	rootCellIdx := int64(binHeaderSize)
	rootCellSize := roundUp8(int64(len(rootPayload)) + cellHeaderSize)
	freeOffset := rootCellIdx + rootCellSize
	freeSize := int64(binAlignment) - freeOffset

	bin := make([]byte, binAlignment)
	copy(bin[offBinSignature:], hbinSignature[:])
	putU32(bin, offBinFileOff, 0)
	putU32(bin, offBinSize, binAlignment)

	putI32(bin, int(rootCellIdx), int32(-rootCellSize))
	copy(bin[rootCellIdx+cellHeaderSize:], rootPayload)
	putI32(bin, int(freeOffset), int32(freeSize))

	header := make([]byte, headerSize)
	copy(header[offSignature:], regfSignature[:])
	putU32(header, offSequence1, 1)
	putU32(header, offSequence2, 1)
	putU32(header, offRootCell, uint32(rootCellIdx))
	putU32(header, offDataSize, binAlignment)
	putU32(header, offChecksum, regfChecksum(header[:checksumRegionLen]))

	buf := make([]byte, headerSize+binAlignment)
	copy(buf, header)
	copy(buf[headerSize:], bin)

	return vio.NewMemStreamFromBytes(buf), rootCellIdx, freeSize
}

func openBlankHive(t *testing.T) *Hive {
	t.Helper()
	stream, _, _ := newBlankHive(t)
	h, err := Open(stream, LogStreams{}, nil)
	require.NoError(t, err)
	return h
}

func TestOpenCleanHive(t *testing.T) {
	h := openBlankHive(t)
	assert.False(t, h.Dirty())
	assert.False(t, h.NeedsRecovery())

	root, err := h.Root()
	require.NoError(t, err)
	assert.Equal(t, "", root.Name())
	assert.True(t, root.node.root)
}

func TestOpenRejectsBadSignature(t *testing.T) {
	stream, _, _ := newBlankHive(t)
	buf := stream.Bytes()
	buf[offSignature] = 'X'
	_, err := Open(vio.NewMemStreamFromBytes(buf), LogStreams{}, nil)
	assert.Error(t, err)
}

func TestCreateSetDeleteRoundTrip(t *testing.T) {
	h := openBlankHive(t)
	root, err := h.Root()
	require.NoError(t, err)

	child, err := root.CreateSubKey(`Software\Acme`)
	require.NoError(t, err)
	assert.Equal(t, "Acme", child.Name())

	err = child.SetValue("Version", []byte{0x01, 0x00, 0x00, 0x00}, RegDword)
	require.NoError(t, err)
	err = child.SetValue("Label", []byte("hello"), RegSZ)
	require.NoError(t, err)

	data, typ, ok, err := child.Value("version")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(RegDword), typ)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, data)

	data, typ, ok, err = child.Value("LABEL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(RegSZ), typ)
	assert.Equal(t, []byte("hello"), data)

	names, err := child.ValueNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Version", "Label"}, names)

	// Overwrite an existing value with a new type/length and confirm it
	// replaces rather than duplicates the entry.
	err = child.SetValue("version", []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}, RegBinary)
	require.NoError(t, err)
	data, typ, ok, err = child.Value("Version")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(RegBinary), typ)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}, data)
	names, err = child.ValueNames()
	require.NoError(t, err)
	assert.Len(t, names, 2)

	software, found, err := root.SubKey("software")
	require.NoError(t, err)
	require.True(t, found)
	subNames, err := software.SubKeyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme"}, subNames)

	// A key with children cannot be deleted.
	err = root.DeleteSubKey("Software", true)
	assert.Error(t, err)

	err = software.DeleteSubKey("Acme", true)
	require.NoError(t, err)
	_, found, err = software.SubKey("Acme")
	require.NoError(t, err)
	assert.False(t, found)

	err = root.DeleteSubKey("Software", true)
	require.NoError(t, err)

	err = root.DeleteSubKey("DoesNotExist", true)
	assert.Error(t, err)
	err = root.DeleteSubKey("DoesNotExist", false)
	assert.NoError(t, err)
}

func TestCreateSubKeyNestedPath(t *testing.T) {
	h := openBlankHive(t)
	root, err := h.Root()
	require.NoError(t, err)

	leaf, err := root.CreateSubKey(`A\B\C`)
	require.NoError(t, err)
	assert.Equal(t, "C", leaf.Name())

	b, found, err := root.SubKey("A")
	require.NoError(t, err)
	require.True(t, found)
	names, err := b.SubKeyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, names)
}

func TestAllocateGrowsNewBin(t *testing.T) {
	h := openBlankHive(t)
	before := len(h.bins)

	idx, err := h.allocate(5000)
	require.NoError(t, err)
	assert.Greater(t, len(h.bins), before)
	assert.GreaterOrEqual(t, idx, int64(binAlignment))
}

// TestOpenRecoversFromLog builds a hive whose header is valid but dirty
// (sequence1 != sequence2) and a single transaction log recording the
// missing writes, then checks Open replays them and leaves the hive clean.
func TestOpenRecoversFromLog(t *testing.T) {
	stream, rootCellIdx, _ := newBlankHive(t)
	buf := stream.Bytes()

	// Make the header dirty: sequence1 ahead of sequence2.
	putU32(buf, offSequence1, 3)
	putU32(buf, offSequence2, 1)
	putU32(buf, offChecksum, regfChecksum(buf[:checksumRegionLen]))

	// Target a byte well inside the bin's single free run, far from either
	// the root cell's or the free run's own 4-byte size header, so
	// patching it can't corrupt the cell layout scanBins relies on.
	target := uint32(rootCellIdx) + 2000

	var log []byte
	log = append(log, make([]byte, 0x200)...) // no log-side header; main header already valid
	log = append(log, encodeLogEntry(2, []dirtyPage{{offset: target, data: []byte("AAAA")}})...)
	log = append(log, encodeLogEntry(3, []dirtyPage{{offset: target, data: []byte("BBBB")}})...)

	logStream := vio.NewMemStreamFromBytes(log)
	h, err := Open(vio.NewMemStreamFromBytes(buf), LogStreams{Log1: logStream}, nil)
	require.NoError(t, err)

	assert.True(t, h.Dirty())
	assert.False(t, h.NeedsRecovery())
	assert.Equal(t, h.header.sequence1(), h.header.sequence2())
	assert.Equal(t, uint32(4), h.header.sequence1())

	got := make([]byte, 4)
	require.NoError(t, vio.ReadFull(h.stream, got, headerSize+int64(target)))
	assert.Equal(t, []byte("BBBB"), got)

	// The replayed hive must still be walkable.
	root, err := h.Root()
	require.NoError(t, err)
	_, err = root.CreateSubKey("Fresh")
	require.NoError(t, err)
}

func TestOpenFailsDirtyWithNoLogs(t *testing.T) {
	stream, _, _ := newBlankHive(t)
	buf := stream.Bytes()
	putU32(buf, offSequence1, 3)
	putU32(buf, offSequence2, 1)
	putU32(buf, offChecksum, regfChecksum(buf[:checksumRegionLen]))

	_, err := Open(vio.NewMemStreamFromBytes(buf), LogStreams{}, nil)
	assert.Error(t, err)
}

func TestMarvin32Deterministic(t *testing.T) {
	h1a, h2a := marvin32([]byte("the quick brown fox"), marvinSeed)
	h1b, h2b := marvin32([]byte("the quick brown fox"), marvinSeed)
	assert.Equal(t, h1a, h1b)
	assert.Equal(t, h2a, h2b)

	h1c, h2c := marvin32([]byte("the quick brown fox."), marvinSeed)
	assert.False(t, h1a == h1c && h2a == h2c)
}

func TestLhAndLfHashCaseInsensitive(t *testing.T) {
	assert.Equal(t, lhHash("Acme"), lhHash("ACME"))
	assert.Equal(t, lfHash("Acme"), lfHash("acme"))
}
