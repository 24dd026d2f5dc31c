// Package gpt implements the GUID Partition Table engine described in
// spec.md §3/§4.2/§6, grounded on vorteil's fixed two-partition GPT writer
// (pkg/vimg/partitions.go: GPTHeader/GPTEntry/writePrimaryGPTHeader/
// generateGPTEntries) generalized into arbitrary create/delete/recover.
package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

const (
	// SectorSize is the fixed GPT sector size this package assumes.
	SectorSize = 512

	headerSignature = "EFI PART"
	headerRevision  = 0x00010000
	headerSize      = 92

	entrySize     = 128
	defaultCount  = 128
	nameCodeUnits = 36 // 72 bytes, UTF-16LE

	protectiveMBRType = 0xEE

	msrSmallDiskThreshold = 16 << 30 // 16 GiB
	msrSmallDiskSize      = 32 << 20 // 32 MiB
	msrLargeDiskSize      = 128 << 20
	msrMinCapacity        = 512 << 20
)

// MicrosoftReservedType and WindowsBasicDataType are the two partition-type
// GUIDs the whole-disk create policy (spec.md §4.2) checks for/allocates.
var (
	MicrosoftReservedType = uuid.MustParse("e3c9e316-0b5c-4db8-817d-f92df00215ae")
	WindowsBasicDataType  = uuid.MustParse("ebd0a0a2-b9e5-4433-87c0-68b6b72699c7")

	// emptyType marks a free entry slot.
	emptyType = uuid.UUID{}
)

// Entry is one GPT partition entry.
type Entry struct {
	Type       uuid.UUID
	UniqueID   uuid.UUID
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       string

	index int // slot within the entries array
}

func (e Entry) free() bool { return e.Type == emptyType }

// header is the in-memory form of a 92-byte GPT header.
type header struct {
	HeaderLBA      uint64
	AlternateLBA   uint64
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	DiskGUID       uuid.UUID
	EntriesLBA     uint64
	EntryCount     uint32
	EntrySize      uint32
	EntriesCRC32   uint32
}

// Table is a GPT partition table over a whole-disk SparseStream.
type Table struct {
	stream     vio.SparseStream
	sectorSize int64

	primary   header
	secondary header
	entries   []Entry // slots, including free ones, indexed by slot
}

func writable(s vio.SparseStream) bool {
	// A stream is considered writable if WriteAt of zero bytes at offset 0
	// does not itself fail; this mirrors the "if the medium is writable"
	// qualifier spec.md §4.2 attaches to recovery/mutation.
	_, err := s.WriteAt(nil, 0)
	return err == nil
}

// guidToDisk converts an RFC 4122 (big-endian) uuid.UUID into GPT's
// mixed-endian on-disk representation: the first three fields are
// little-endian, the last two (clock seq + node) are big-endian as-is.
func guidToDisk(u uuid.UUID) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint32(out[0:4], binary.BigEndian.Uint32(u[0:4]))
	binary.LittleEndian.PutUint16(out[4:6], binary.BigEndian.Uint16(u[4:6]))
	binary.LittleEndian.PutUint16(out[6:8], binary.BigEndian.Uint16(u[6:8]))
	copy(out[8:16], u[8:16])
	return out
}

func diskToGUID(b []byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(u[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(u[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(u[8:16], b[8:16])
	return u
}

func encodeName(name string) [nameCodeUnits * 2]byte {
	var out [nameCodeUnits * 2]byte
	units := utf16.Encode([]rune(name))
	if len(units) > nameCodeUnits-1 {
		units = units[:nameCodeUnits-1]
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], u)
	}
	return out
}

func decodeName(b []byte) string {
	units := make([]uint16, 0, nameCodeUnits)
	for i := 0; i+2 <= len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entrySize)
	t := guidToDisk(e.Type)
	copy(buf[0:16], t[:])
	u := guidToDisk(e.UniqueID)
	copy(buf[16:32], u[:])
	binary.LittleEndian.PutUint64(buf[32:40], e.FirstLBA)
	binary.LittleEndian.PutUint64(buf[40:48], e.LastLBA)
	binary.LittleEndian.PutUint64(buf[48:56], e.Attributes)
	name := encodeName(e.Name)
	copy(buf[56:56+len(name)], name[:])
	return buf
}

func decodeEntry(buf []byte, index int) Entry {
	return Entry{
		Type:       diskToGUID(buf[0:16]),
		UniqueID:   diskToGUID(buf[16:32]),
		FirstLBA:   binary.LittleEndian.Uint64(buf[32:40]),
		LastLBA:    binary.LittleEndian.Uint64(buf[40:48]),
		Attributes: binary.LittleEndian.Uint64(buf[48:56]),
		Name:       decodeName(buf[56:128]),
		index:      index,
	}
}

func encodeHeader(h header, entriesCRC uint32) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], headerSignature)
	binary.LittleEndian.PutUint32(buf[8:12], headerRevision)
	binary.LittleEndian.PutUint32(buf[12:16], headerSize)
	// buf[16:20] CRC32 left zero for now.
	binary.LittleEndian.PutUint64(buf[24:32], h.HeaderLBA)
	binary.LittleEndian.PutUint64(buf[32:40], h.AlternateLBA)
	binary.LittleEndian.PutUint64(buf[40:48], h.FirstUsableLBA)
	binary.LittleEndian.PutUint64(buf[48:56], h.LastUsableLBA)
	g := guidToDisk(h.DiskGUID)
	copy(buf[56:72], g[:])
	binary.LittleEndian.PutUint64(buf[72:80], h.EntriesLBA)
	binary.LittleEndian.PutUint32(buf[80:84], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[84:88], h.EntrySize)
	binary.LittleEndian.PutUint32(buf[88:92], entriesCRC)

	crc := crc32.ChecksumIEEE(buf[:headerSize])
	binary.LittleEndian.PutUint32(buf[16:20], crc)
	return buf
}

func decodeHeader(buf []byte) (header, uint32, error) {
	if !bytes.Equal(buf[0:8], []byte(headerSignature)) {
		return header{}, 0, fmt.Errorf("gpt: bad signature: %w", vdiskerr.ErrParse)
	}
	hsz := binary.LittleEndian.Uint32(buf[12:16])
	if int(hsz) > len(buf) || hsz < headerSize {
		return header{}, 0, fmt.Errorf("gpt: implausible header size %d: %w", hsz, vdiskerr.ErrCorrupt)
	}
	wantCRC := binary.LittleEndian.Uint32(buf[16:20])
	scratch := make([]byte, hsz)
	copy(scratch, buf[:hsz])
	binary.LittleEndian.PutUint32(scratch[16:20], 0)
	gotCRC := crc32.ChecksumIEEE(scratch)
	if gotCRC != wantCRC {
		return header{}, 0, fmt.Errorf("gpt: header CRC mismatch: %w", vdiskerr.ErrCorrupt)
	}

	h := header{
		HeaderLBA:      binary.LittleEndian.Uint64(buf[24:32]),
		AlternateLBA:   binary.LittleEndian.Uint64(buf[32:40]),
		FirstUsableLBA: binary.LittleEndian.Uint64(buf[40:48]),
		LastUsableLBA:  binary.LittleEndian.Uint64(buf[48:56]),
		DiskGUID:       diskToGUID(buf[56:72]),
		EntriesLBA:     binary.LittleEndian.Uint64(buf[72:80]),
		EntryCount:     binary.LittleEndian.Uint32(buf[80:84]),
		EntrySize:      binary.LittleEndian.Uint32(buf[84:88]),
	}
	entriesCRC := binary.LittleEndian.Uint32(buf[88:92])
	return h, entriesCRC, nil
}

func entriesByteLength(h header) int64 {
	return int64(h.EntryCount) * int64(h.EntrySize)
}

func entriesSectorCount(h header, sectorSize int64) int64 {
	n := entriesByteLength(h)
	return (n + sectorSize - 1) / sectorSize
}

func (t *Table) readEntries(lba uint64, h header) ([]Entry, uint32, error) {
	length := entriesByteLength(h)
	buf := make([]byte, length)
	if err := vio.ReadFull(t.stream, buf, int64(lba)*t.sectorSize); err != nil {
		return nil, 0, err
	}
	crc := crc32.ChecksumIEEE(buf)
	entries := make([]Entry, h.EntryCount)
	for i := uint32(0); i < h.EntryCount; i++ {
		off := int64(i) * int64(h.EntrySize)
		entries[i] = decodeEntry(buf[off:off+entrySize], int(i))
	}
	return entries, crc, nil
}

func (t *Table) writeEntries(lba uint64, entries []Entry) (uint32, error) {
	buf := make([]byte, 0, len(entries)*entrySize)
	for _, e := range entries {
		buf = append(buf, encodeEntry(e)...)
	}
	if _, err := t.stream.WriteAt(buf, int64(lba)*t.sectorSize); err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(buf), nil
}

func (t *Table) writeHeader(lba uint64, h header, entriesCRC uint32) error {
	buf := encodeHeader(h, entriesCRC)
	padded := make([]byte, t.sectorSize)
	copy(padded, buf)
	_, err := t.stream.WriteAt(padded, int64(lba)*t.sectorSize)
	return err
}

func (t *Table) readHeaderAt(lba uint64) (header, uint32, error) {
	buf := make([]byte, t.sectorSize)
	if err := vio.ReadFull(t.stream, buf, int64(lba)*t.sectorSize); err != nil {
		return header{}, 0, err
	}
	return decodeHeader(buf)
}

func (t *Table) diskSectors() (int64, error) {
	length, err := t.stream.Length()
	if err != nil {
		return 0, err
	}
	return length / t.sectorSize, nil
}

// Open parses the GPT from stream, falling back from primary to secondary
// (or vice versa) and reconstructing+persisting the corrupt side when the
// medium is writable, per spec.md §4.2.
func Open(stream vio.SparseStream) (*Table, error) {
	t := &Table{stream: stream, sectorSize: SectorSize}

	diskSectors, err := t.diskSectors()
	if err != nil {
		return nil, err
	}
	lastLBA := uint64(diskSectors - 1)

	primary, primaryEntriesCRC, primaryErr := t.readHeaderAt(1)
	var primaryEntries []Entry
	if primaryErr == nil {
		primaryEntries, _, primaryErr = t.verifyEntries(primary, primaryEntriesCRC)
	}

	secondary, secondaryEntriesCRC, secondaryErr := t.readHeaderAt(lastLBA)
	var secondaryEntries []Entry
	if secondaryErr == nil {
		secondaryEntries, _, secondaryErr = t.verifyEntries(secondary, secondaryEntriesCRC)
	}

	switch {
	case primaryErr == nil && secondaryErr == nil:
		t.primary, t.secondary, t.entries = primary, secondary, primaryEntries
	case primaryErr == nil && secondaryErr != nil:
		t.primary, t.entries = primary, primaryEntries
		t.secondary = mirrorSecondary(primary, lastLBA, entriesSectorCount(primary, t.sectorSize))
		if writable(stream) {
			if err := t.persistSide(t.secondary, t.entries); err != nil {
				return nil, err
			}
		}
	case primaryErr != nil && secondaryErr == nil:
		t.secondary, t.entries = secondary, secondaryEntries
		t.primary = mirrorPrimary(secondary)
		if writable(stream) {
			if err := t.persistSide(t.primary, t.entries); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("gpt: both primary and secondary headers invalid: %w", vdiskerr.ErrCorrupt)
	}

	return t, nil
}

func (t *Table) verifyEntries(h header, wantCRC uint32) ([]Entry, uint32, error) {
	entries, gotCRC, err := t.readEntries(h.EntriesLBA, h)
	if err != nil {
		return nil, 0, err
	}
	if gotCRC != wantCRC {
		return nil, 0, fmt.Errorf("gpt: entries CRC mismatch: %w", vdiskerr.ErrCorrupt)
	}
	return entries, gotCRC, nil
}

// mirrorSecondary builds a secondary header from a known-good primary.
func mirrorSecondary(primary header, lastLBA uint64, entrySectors int64) header {
	return header{
		HeaderLBA:      lastLBA,
		AlternateLBA:   1,
		FirstUsableLBA: primary.FirstUsableLBA,
		LastUsableLBA:  primary.LastUsableLBA,
		DiskGUID:       primary.DiskGUID,
		EntriesLBA:     lastLBA - uint64(entrySectors),
		EntryCount:     primary.EntryCount,
		EntrySize:      primary.EntrySize,
	}
}

// mirrorPrimary builds a primary header from a known-good secondary, per
// spec.md §4.2 ("swap header LBAs, set entries LBA to 2").
func mirrorPrimary(secondary header) header {
	return header{
		HeaderLBA:      1,
		AlternateLBA:   secondary.HeaderLBA,
		FirstUsableLBA: secondary.FirstUsableLBA,
		LastUsableLBA:  secondary.LastUsableLBA,
		DiskGUID:       secondary.DiskGUID,
		EntriesLBA:     2,
		EntryCount:     secondary.EntryCount,
		EntrySize:      secondary.EntrySize,
	}
}

func (t *Table) persistSide(h header, entries []Entry) error {
	crc, err := t.writeEntries(h.EntriesLBA, entries)
	if err != nil {
		return err
	}
	if h.HeaderLBA == 1 {
		t.primary = h
	} else {
		t.secondary = h
	}
	return t.writeHeader(h.HeaderLBA, h, crc)
}

// Initialize writes a fresh, empty GPT (protective MBR, zeroed primary and
// secondary headers/entry arrays) spanning the whole of stream.
func Initialize(stream vio.SparseStream, diskGUID uuid.UUID) (*Table, error) {
	t := &Table{stream: stream, sectorSize: SectorSize}

	diskSectors, err := t.diskSectors()
	if err != nil {
		return nil, err
	}

	count := uint32(defaultCount)
	h := header{EntryCount: count, EntrySize: entrySize}
	entrySectors := entriesSectorCount(h, t.sectorSize)

	lastLBA := uint64(diskSectors - 1)
	primary := header{
		HeaderLBA:      1,
		AlternateLBA:   lastLBA,
		FirstUsableLBA: 2 + uint64(entrySectors),
		LastUsableLBA:  lastLBA - uint64(entrySectors) - 1,
		DiskGUID:       diskGUID,
		EntriesLBA:     2,
		EntryCount:     count,
		EntrySize:      entrySize,
	}
	secondary := mirrorSecondary(primary, lastLBA, entrySectors)

	entries := make([]Entry, count)
	for i := range entries {
		entries[i].index = int(i)
	}

	if err := writeProtectiveMBR(stream, t.sectorSize, uint64(diskSectors)); err != nil {
		return nil, err
	}

	t.primary, t.secondary, t.entries = primary, secondary, entries
	if err := t.persistSide(primary, entries); err != nil {
		return nil, err
	}
	if err := t.persistSide(secondary, entries); err != nil {
		return nil, err
	}
	return t, nil
}

func writeProtectiveMBR(stream vio.SparseStream, sectorSize int64, diskSectors uint64) error {
	sector := make([]byte, sectorSize)
	sector[510] = 0x55
	sector[511] = 0xAA

	length := diskSectors - 1
	if length > 0xFFFFFFFF {
		length = 0xFFFFFFFF
	}
	off := 0x1BE
	sector[off] = 0
	sector[off+4] = protectiveMBRType
	binary.LittleEndian.PutUint32(sector[off+8:off+12], 1)
	binary.LittleEndian.PutUint32(sector[off+12:off+16], uint32(length))

	_, err := stream.WriteAt(sector, 0)
	return err
}

// Partitions returns the non-empty entries, ordered by FirstLBA, per
// spec.md §3.
func (t *Table) Partitions() []Entry {
	var out []Entry
	for _, e := range t.entries {
		if !e.free() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstLBA < out[j].FirstLBA })
	return out
}

func (t *Table) findGap(numSectors uint64, alignment uint64) (uint64, error) {
	if alignment == 0 {
		alignment = 1
	}
	alignSectors := alignment / uint64(t.sectorSize)
	if alignSectors == 0 {
		alignSectors = 1
	}

	parts := t.Partitions()

	cursor := roundUp(t.primary.FirstUsableLBA, alignSectors)
	for {
		conflict := false
		for _, p := range parts {
			if cursor <= p.LastLBA && cursor+numSectors-1 >= p.FirstLBA {
				cursor = roundUp(p.LastLBA+1, alignSectors)
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		if cursor+numSectors-1 > t.primary.LastUsableLBA {
			return 0, fmt.Errorf("gpt: no free space for %d sectors: %w", numSectors, vdiskerr.ErrBounds)
		}
		return cursor, nil
	}
}

func roundUp(v, multiple uint64) uint64 {
	if multiple <= 1 {
		return v
	}
	return ((v + multiple - 1) / multiple) * multiple
}

func (t *Table) freeSlot() (int, error) {
	for i, e := range t.entries {
		if e.free() {
			return i, nil
		}
	}
	return 0, fmt.Errorf("gpt: no free entry slot: %w", vdiskerr.ErrBounds)
}

// Create allocates a new partition of numSectors sectors at the first gap
// found by findGap, aligned to alignment bytes (0 means sector-aligned).
func (t *Table) Create(numSectors uint64, partType uuid.UUID, name string, alignment uint64) (int, error) {
	if numSectors == 0 {
		return 0, fmt.Errorf("gpt: partition size must be nonzero: %w", vdiskerr.ErrBounds)
	}

	slot, err := t.freeSlot()
	if err != nil {
		return 0, err
	}

	start, err := t.findGap(numSectors, alignment)
	if err != nil {
		return 0, err
	}

	t.entries[slot] = Entry{
		Type:     partType,
		UniqueID: uuid.New(),
		FirstLBA: start,
		LastLBA:  start + numSectors - 1,
		Name:     name,
		index:    slot,
	}

	if err := t.rewriteBoth(); err != nil {
		return 0, err
	}
	return slot, nil
}

// hasType reports whether any occupied entry carries partition type typ.
func (t *Table) hasType(typ uuid.UUID) bool {
	for _, e := range t.entries {
		if !e.free() && e.Type == typ {
			return true
		}
	}
	return false
}

// CreateWholeDisk implements the whole-disk allocation policy of spec.md
// §4.2: allocate a Microsoft Reserved partition first (sized by disk
// capacity) if none exists and no Windows Basic Data partition exists and
// capacity exceeds 512 MiB, then allocate the user partition. userSectors
// of 0 means "fill whatever space remains after the MSR allocation".
func (t *Table) CreateWholeDisk(userSectors uint64, userType uuid.UUID, userName string) (msrIndex int, userIndex int, err error) {
	diskSectors, err := t.diskSectors()
	if err != nil {
		return 0, 0, err
	}
	capacity := diskSectors * t.sectorSize

	msrIndex = -1
	if capacity > msrMinCapacity && !t.hasType(MicrosoftReservedType) && !t.hasType(WindowsBasicDataType) {
		msrSize := int64(msrSmallDiskSize)
		if capacity >= msrSmallDiskThreshold {
			msrSize = msrLargeDiskSize
		}
		msrSectors := uint64(msrSize / t.sectorSize)
		msrIndex, err = t.Create(msrSectors, MicrosoftReservedType, "Microsoft reserved partition", 0)
		if err != nil {
			return 0, 0, err
		}
	}

	if userSectors == 0 {
		start, gapErr := t.findGap(1, 0)
		if gapErr != nil {
			return msrIndex, 0, gapErr
		}
		userSectors = t.primary.LastUsableLBA - start + 1
	}

	userIndex, err = t.Create(userSectors, userType, userName, 0)
	return msrIndex, userIndex, err
}

// Delete zeroes the entry slot at index and rewrites both header/entry
// copies.
func (t *Table) Delete(index int) error {
	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("gpt: no partition at index %d: %w", index, vdiskerr.ErrNotFound)
	}
	if t.entries[index].free() {
		return fmt.Errorf("gpt: no partition at index %d: %w", index, vdiskerr.ErrNotFound)
	}
	t.entries[index] = Entry{index: index}
	return t.rewriteBoth()
}

func (t *Table) rewriteBoth() error {
	if err := t.persistSide(t.primary, t.entries); err != nil {
		return err
	}
	return t.persistSide(t.secondary, t.entries)
}

// OpenPartition returns a SubStream bounded to [firstLba*sectorSize,
// (lastLba+1)*sectorSize).
func (t *Table) OpenPartition(index int) (vio.SparseStream, error) {
	if index < 0 || index >= len(t.entries) || t.entries[index].free() {
		return nil, fmt.Errorf("gpt: no partition at index %d: %w", index, vdiskerr.ErrNotFound)
	}
	e := t.entries[index]
	start := int64(e.FirstLBA) * t.sectorSize
	size := int64(e.LastLBA-e.FirstLBA+1) * t.sectorSize
	return vio.NewSubStream(t.stream, start, size)
}

// VerifyCRCs reports whether both headers' own CRC32 (checked implicitly:
// decodeHeader errors on mismatch) and entries CRC32 still match their
// current on-disk content, the "round-trip" invariant spec.md §8 names.
func (t *Table) VerifyCRCs() (bool, error) {
	for _, lba := range []uint64{t.primary.HeaderLBA, t.secondary.HeaderLBA} {
		h, storedEntriesCRC, err := t.readHeaderAt(lba)
		if err != nil {
			return false, err
		}
		_, gotCRC, err := t.readEntries(h.EntriesLBA, h)
		if err != nil {
			return false, err
		}
		if storedEntriesCRC != gotCRC {
			return false, nil
		}
	}
	return true, nil
}
