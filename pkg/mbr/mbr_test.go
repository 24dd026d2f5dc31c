package mbr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/vdiskfs/pkg/vio"
)

func newBlankDisk(t *testing.T, sectors int64) *vio.MemStream {
	t.Helper()
	disk := vio.NewMemStream(sectors * SectorSize)
	boot := make([]byte, SectorSize)
	boot[bootSignatureOffset] = bootSignature[0]
	boot[bootSignatureOffset+1] = bootSignature[1]
	_, err := disk.WriteAt(boot, 0)
	require.NoError(t, err)
	return disk
}

func TestOpenRejectsMissingSignature(t *testing.T) {
	disk := vio.NewMemStream(SectorSize)
	_, err := Open(disk)
	assert.Error(t, err)
}

func TestCreateAndPartitions(t *testing.T) {
	disk := newBlankDisk(t, 4096)
	tab, err := Open(disk)
	require.NoError(t, err)

	idx, err := tab.Create(100, 0x83, true, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	parts, err := tab.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, byte(0x83), parts[0].Type)
	assert.True(t, parts[0].Active)
	assert.Equal(t, uint32(100), parts[0].LBALength)
	assert.Equal(t, uint32(0), parts[0].LBAStart%8)
}

func TestCreateSkipsOccupiedGap(t *testing.T) {
	disk := newBlankDisk(t, 4096)
	tab, err := Open(disk)
	require.NoError(t, err)

	_, err = tab.Create(100, 0x83, false, 1)
	require.NoError(t, err)
	idx2, err := tab.Create(100, 0x83, false, 1)
	require.NoError(t, err)

	parts, err := tab.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.NotEqual(t, parts[0].LBAStart, parts[1].LBAStart)
	assert.Equal(t, 1, idx2)
}

func TestCreateDefaultAlignmentIsCylinderAligned(t *testing.T) {
	disk := newBlankDisk(t, 2*sectorsPerCylinder)
	tab, err := Open(disk)
	require.NoError(t, err)

	idx, err := tab.Create(100, 0x83, false, 0)
	require.NoError(t, err)

	parts, err := tab.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, idx, parts[0].Index)
	assert.Equal(t, uint32(0), parts[0].LBAStart%sectorsPerCylinder)
}

func TestSetActiveClearsOthers(t *testing.T) {
	disk := newBlankDisk(t, 4096)
	tab, err := Open(disk)
	require.NoError(t, err)

	_, err = tab.Create(50, 0x83, true, 1)
	require.NoError(t, err)
	_, err = tab.Create(50, 0x83, false, 1)
	require.NoError(t, err)

	require.NoError(t, tab.SetActive(1))

	parts, err := tab.Partitions()
	require.NoError(t, err)
	assert.False(t, parts[0].Active)
	assert.True(t, parts[1].Active)
}

func TestDeleteZeroesRecord(t *testing.T) {
	disk := newBlankDisk(t, 4096)
	tab, err := Open(disk)
	require.NoError(t, err)

	idx, err := tab.Create(50, 0x83, false, 1)
	require.NoError(t, err)
	require.NoError(t, tab.Delete(idx))

	parts, err := tab.Partitions()
	require.NoError(t, err)
	assert.Len(t, parts, 0)
}

// writeExtendedChain hand-builds a primary extended partition plus a
// 2-deep EBR chain, mirroring the scenario in spec.md §8's worked example:
// the link record in every EBR is relative to the outer extended LBA,
// while the logical-partition record is relative to that EBR's own LBA.
func writeExtendedChain(t *testing.T, disk *vio.MemStream, outerBase uint32) {
	t.Helper()

	boot := make([]byte, SectorSize)
	boot[bootSignatureOffset] = bootSignature[0]
	boot[bootSignatureOffset+1] = bootSignature[1]
	writeRecord(boot, 0, record{
		PartitionType: TypeExtendedLBA,
		LBAStart:      outerBase,
		LBALength:     2000,
	})
	_, err := disk.WriteAt(boot, 0)
	require.NoError(t, err)

	ebr0 := make([]byte, SectorSize)
	ebr0[bootSignatureOffset] = bootSignature[0]
	ebr0[bootSignatureOffset+1] = bootSignature[1]
	writeRecord(ebr0, 0, record{PartitionType: 0x83, LBAStart: 63, LBALength: 500})
	writeRecord(ebr0, 1, record{PartitionType: TypeExtendedLBA, LBAStart: 1000, LBALength: 500})
	_, err = disk.WriteAt(ebr0, int64(outerBase)*SectorSize)
	require.NoError(t, err)

	nextEBRLBA := int64(outerBase) + 1000
	ebr1 := make([]byte, SectorSize)
	ebr1[bootSignatureOffset] = bootSignature[0]
	ebr1[bootSignatureOffset+1] = bootSignature[1]
	writeRecord(ebr1, 0, record{PartitionType: 0x83, LBAStart: 32, LBALength: 200})
	_, err = disk.WriteAt(ebr1, nextEBRLBA*SectorSize)
	require.NoError(t, err)
}

func TestExtendedChainAbsoluteLBAs(t *testing.T) {
	disk := vio.NewMemStream(8192 * SectorSize)
	writeExtendedChain(t, disk, 2048)

	tab, err := Open(disk)
	require.NoError(t, err)

	parts, err := tab.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, uint32(2048+63), parts[0].LBAStart)
	assert.Equal(t, uint32(500), parts[0].LBALength)

	assert.Equal(t, uint32(2048+1000+32), parts[1].LBAStart)
	assert.Equal(t, uint32(200), parts[1].LBALength)
}

func TestLBAToCHSClampsAtGeometryLimit(t *testing.T) {
	chs := lbaToCHS(0xFFFFFFFF)
	cyl, head, sector, _ := decodeCHS(chs)
	assert.Equal(t, 1023, cyl)
	assert.Equal(t, 254, head)
	assert.Equal(t, 63, sector)
}

func TestOpenPartitionBoundsSubStream(t *testing.T) {
	disk := newBlankDisk(t, 4096)
	tab, err := Open(disk)
	require.NoError(t, err)

	idx, err := tab.Create(10, 0x83, false, 1)
	require.NoError(t, err)

	sub, err := tab.OpenPartition(idx)
	require.NoError(t, err)
	length, err := sub.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(10*SectorSize), length)
}
