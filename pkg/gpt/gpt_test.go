package gpt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/vdiskfs/pkg/vio"
)

func newDisk(t *testing.T, megabytes int64) *vio.MemStream {
	t.Helper()
	return vio.NewMemStream(megabytes << 20)
}

func TestInitializeEmptyDisk(t *testing.T) {
	disk := newDisk(t, 64)
	tab, err := Initialize(disk, uuid.New())
	require.NoError(t, err)

	assert.Len(t, tab.Partitions(), 0)

	ok, err := tab.VerifyCRCs()
	require.NoError(t, err)
	assert.True(t, ok)

	diskSectors, err := tab.diskSectors()
	require.NoError(t, err)
	assert.Equal(t, uint64(diskSectors-1), tab.secondary.HeaderLBA)
}

func TestCreateWholeDiskPolicy(t *testing.T) {
	disk := newDisk(t, 32<<10) // 32 GiB
	tab, err := Initialize(disk, uuid.New())
	require.NoError(t, err)

	msrIdx, userIdx, err := tab.CreateWholeDisk(0, WindowsBasicDataType, "basic data")
	require.NoError(t, err)
	require.NotEqual(t, -1, msrIdx)

	parts := tab.Partitions()
	require.Len(t, parts, 2)

	msr := parts[0]
	assert.Equal(t, MicrosoftReservedType, msr.Type)
	assert.Equal(t, uint64(msrLargeDiskSize/SectorSize), msr.LastLBA-msr.FirstLBA+1)

	user := parts[1]
	assert.Equal(t, WindowsBasicDataType, user.Type)
	_ = userIdx
}

func TestDeleteZeroesSlot(t *testing.T) {
	disk := newDisk(t, 64)
	tab, err := Initialize(disk, uuid.New())
	require.NoError(t, err)

	idx1, err := tab.Create(2048, MicrosoftReservedType, "one", 0)
	require.NoError(t, err)
	_, err = tab.Create(2048, WindowsBasicDataType, "two", 0)
	require.NoError(t, err)
	require.Len(t, tab.Partitions(), 2)

	require.NoError(t, tab.Delete(idx1))
	assert.Len(t, tab.Partitions(), 1)
}

func TestRecoverFromSecondary(t *testing.T) {
	disk := newDisk(t, 64)
	tab, err := Initialize(disk, uuid.New())
	require.NoError(t, err)
	_, err = tab.Create(2048, MicrosoftReservedType, "reserved", 0)
	require.NoError(t, err)

	// Zero the primary header sector to simulate corruption.
	zero := make([]byte, SectorSize)
	_, err = disk.WriteAt(zero, int64(tab.primary.HeaderLBA)*SectorSize)
	require.NoError(t, err)

	recovered, err := Open(disk)
	require.NoError(t, err)
	assert.Len(t, recovered.Partitions(), 1)

	ok, err := recovered.VerifyCRCs()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGUIDRoundTrip(t *testing.T) {
	u := uuid.New()
	disk := guidToDisk(u)
	back := diskToGUID(disk[:])
	assert.Equal(t, u, back)
}

func TestNameRoundTrip(t *testing.T) {
	name := "basic data partition"
	enc := encodeName(name)
	assert.Equal(t, name, decodeName(enc[:]))
}

func TestOpenPartitionBoundsSubStream(t *testing.T) {
	disk := newDisk(t, 64)
	tab, err := Initialize(disk, uuid.New())
	require.NoError(t, err)

	idx, err := tab.Create(1000, WindowsBasicDataType, "data", 0)
	require.NoError(t, err)

	sub, err := tab.OpenPartition(idx)
	require.NoError(t, err)
	length, err := sub.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(1000*SectorSize), length)
}
