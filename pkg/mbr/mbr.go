// Package mbr implements the MBR + Extended Boot Record partition table
// engine described in spec.md §3/§4.2/§6, grounded on vorteil's protective
// MBR writer (pkg/vimg/partitions.go) generalized from a single hard-coded
// protective entry to full CRUD over primary and chained logical
// partitions.
package mbr

import (
	"encoding/binary"
	"fmt"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

const (
	// SectorSize is the fixed MBR sector size.
	SectorSize = 512

	bootSignatureOffset = 510
	recordsOffset       = 0x1BE
	recordSize          = 16
	numPrimaryRecords   = 4

	// TypeExtendedCHS and TypeExtendedLBA both mark an extended partition;
	// either chains a secondary EBR.
	TypeExtendedCHS = 0x05
	TypeExtendedLBA = 0x0F

	maxEBRChainLength = 64

	// headsPerCylinder/sectorsPerTrack are the common 255-head/63-sector
	// geometry lbaToCHS and the cylinder-aligned default gap search both
	// assume; sectorsPerCylinder is the resulting cylinder size.
	headsPerCylinder   = 255
	sectorsPerTrack    = 63
	sectorsPerCylinder = headsPerCylinder * sectorsPerTrack
)

var bootSignature = [2]byte{0x55, 0xAA}

// record is the 16-byte on-disk MBR partition record.
type record struct {
	Status        byte
	StartCHS      [3]byte
	PartitionType byte
	EndCHS        [3]byte
	LBAStart      uint32
	LBALength     uint32
}

func (r record) valid() bool {
	_, endHead, endSector, endCylinder := decodeCHS(r.EndCHS)
	return endHead != 0 || endSector != 0 || endCylinder != 0 || r.LBALength != 0
}

func (r record) isExtended() bool {
	return r.PartitionType == TypeExtendedCHS || r.PartitionType == TypeExtendedLBA
}

func decodeCHS(chs [3]byte) (cylinder int, head int, sector int, rawCylinder int) {
	head = int(chs[0])
	sector = int(chs[1] & 0x3F)
	cylinder = (int(chs[1]&0xC0) << 2) | int(chs[2])
	return cylinder, head, sector, cylinder
}

// lbaToCHS produces a best-effort CHS tuple for lba using the common
// 255-head/63-sector-per-track geometry, clamped to (1023, 254, 63) when
// the LBA exceeds what CHS can represent. LBA remains authoritative;
// CHS fields are purely advisory, per spec.md §4.2.
func lbaToCHS(lba uint32) [3]byte {
	cylinder := int(lba) / (headsPerCylinder * sectorsPerTrack)
	head := (int(lba) / sectorsPerTrack) % headsPerCylinder
	sector := (int(lba) % sectorsPerTrack) + 1

	if cylinder > 1023 {
		cylinder = 1023
		head = 254
		sector = 63
	}

	return [3]byte{
		byte(head),
		byte((sector & 0x3F) | ((cylinder >> 2) & 0xC0)),
		byte(cylinder & 0xFF),
	}
}

// Partition describes one visible (primary or logical) partition, in the
// order MBR exposes them: primary slots in order, with the logical
// partitions of an extended record listed at that record's slot position.
type Partition struct {
	Index     int
	Type      byte
	Active    bool
	LBAStart  uint32
	LBALength uint32

	// logical is true for partitions found inside the extended chain.
	logical bool
	// recordLBA/recordOffset locate the 16-byte record on disk so it can
	// be rewritten by Delete/SetActive without a full re-parse.
	recordLBA    uint32
	recordOffset int64
}

// Table is an MBR + EBR partition table over a whole-disk SparseStream.
type Table struct {
	stream vio.SparseStream
}

// Open parses the MBR (and its extended chain, if any) from stream.
func Open(stream vio.SparseStream) (*Table, error) {
	sector := make([]byte, SectorSize)
	if err := vio.ReadFull(stream, sector, 0); err != nil {
		return nil, fmt.Errorf("mbr: reading boot sector: %w", err)
	}
	if sector[bootSignatureOffset] != bootSignature[0] || sector[bootSignatureOffset+1] != bootSignature[1] {
		return nil, fmt.Errorf("mbr: missing 0x55AA boot signature: %w", vdiskerr.ErrParse)
	}
	return &Table{stream: stream}, nil
}

func readRecord(sector []byte, slot int) record {
	var r record
	off := recordsOffset + slot*recordSize
	r.Status = sector[off]
	copy(r.StartCHS[:], sector[off+1:off+4])
	r.PartitionType = sector[off+4]
	copy(r.EndCHS[:], sector[off+5:off+8])
	r.LBAStart = binary.LittleEndian.Uint32(sector[off+8 : off+12])
	r.LBALength = binary.LittleEndian.Uint32(sector[off+12 : off+16])
	return r
}

func writeRecord(sector []byte, slot int, r record) {
	off := recordsOffset + slot*recordSize
	sector[off] = r.Status
	copy(sector[off+1:off+4], r.StartCHS[:])
	sector[off+4] = r.PartitionType
	copy(sector[off+5:off+8], r.EndCHS[:])
	binary.LittleEndian.PutUint32(sector[off+8:off+12], r.LBAStart)
	binary.LittleEndian.PutUint32(sector[off+12:off+16], r.LBALength)
}

// Partitions returns every visible partition in primary slot order; an
// extended record's slot contributes the logical partitions found by
// walking its chain depth-first, in place of the extended record itself.
func (t *Table) Partitions() ([]*Partition, error) {
	sector := make([]byte, SectorSize)
	if err := vio.ReadFull(t.stream, sector, 0); err != nil {
		return nil, err
	}

	var out []*Partition
	idx := 0
	for slot := 0; slot < numPrimaryRecords; slot++ {
		r := readRecord(sector, slot)
		if !r.valid() {
			continue
		}
		if r.isExtended() {
			logicals, err := t.walkExtended(int64(r.LBAStart), int64(r.LBAStart), 0, &idx)
			if err != nil {
				return nil, err
			}
			out = append(out, logicals...)
			continue
		}
		out = append(out, &Partition{
			Index:        idx,
			Type:         r.PartitionType,
			Active:       r.Status&0x80 != 0,
			LBAStart:     r.LBAStart,
			LBALength:    r.LBALength,
			recordLBA:    0,
			recordOffset: int64(recordsOffset + slot*recordSize),
		})
		idx++
	}
	return out, nil
}

// walkExtended recursively traverses the EBR chain rooted at ebrLBA.
// outerBase is the LBA of the top-level extended partition: per spec.md
// §4.2/§9, the *link* record in every EBR is relative to outerBase, not to
// the current EBR, while the logical-partition record in each EBR is
// relative to that EBR's own LBA.
func (t *Table) walkExtended(outerBase, ebrLBA int64, depth int, idx *int) ([]*Partition, error) {
	if depth >= maxEBRChainLength {
		return nil, fmt.Errorf("mbr: extended partition chain exceeds %d entries: %w", maxEBRChainLength, vdiskerr.ErrCorrupt)
	}

	sector := make([]byte, SectorSize)
	if err := vio.ReadFull(t.stream, sector, ebrLBA*SectorSize); err != nil {
		return nil, fmt.Errorf("mbr: reading EBR at LBA %d: %w", ebrLBA, err)
	}
	if sector[bootSignatureOffset] != bootSignature[0] || sector[bootSignatureOffset+1] != bootSignature[1] {
		return nil, fmt.Errorf("mbr: EBR at LBA %d missing boot signature: %w", ebrLBA, vdiskerr.ErrCorrupt)
	}

	rec0 := readRecord(sector, 0)
	rec1 := readRecord(sector, 1)

	var out []*Partition
	if rec0.valid() {
		out = append(out, &Partition{
			Index:        *idx,
			Type:         rec0.PartitionType,
			Active:       rec0.Status&0x80 != 0,
			LBAStart:     uint32(ebrLBA) + rec0.LBAStart,
			LBALength:    rec0.LBALength,
			logical:      true,
			recordLBA:    uint32(ebrLBA),
			recordOffset: int64(recordsOffset),
		})
		*idx++
	}

	if rec1.valid() && rec1.isExtended() {
		nextLBA := outerBase + int64(rec1.LBAStart)
		rest, err := t.walkExtended(outerBase, nextLBA, depth+1, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}

	return out, nil
}

// gap describes free space between partitions, in sectors.
type gap struct {
	startLBA uint32
	lengthLBA uint32
}

func (t *Table) findGap(sizeSectors uint32, alignment uint32) (*gap, error) {
	parts, err := t.Partitions()
	if err != nil {
		return nil, err
	}

	length, err := t.stream.Length()
	if err != nil {
		return nil, err
	}
	diskSectors := uint32(length / SectorSize)

	type occ struct{ start, end uint32 }
	var occupied []occ
	for _, p := range parts {
		occupied = append(occupied, occ{p.LBAStart, p.LBAStart + p.LBALength})
	}

	cursor := alignment
	if cursor == 0 {
		cursor = 1
	}
	for {
		// round cursor up to alignment
		if alignment > 1 {
			cursor = ((cursor + alignment - 1) / alignment) * alignment
		}
		if cursor+sizeSectors > diskSectors {
			return nil, fmt.Errorf("mbr: no gap of %d sectors found: %w", sizeSectors, vdiskerr.ErrBounds)
		}
		conflict := false
		for _, o := range occupied {
			if cursor < o.end && cursor+sizeSectors > o.start {
				cursor = o.end
				conflict = true
				break
			}
		}
		if !conflict {
			return &gap{startLBA: cursor, lengthLBA: sizeSectors}, nil
		}
	}
}

// Create allocates a new primary partition of sizeSectors sectors,
// choosing a free gap via findGap, and writes the record to slot. It
// returns the new partition's index. alignmentSectors of 0 means the
// cylinder-aligned default (per spec.md §4.2): the gap search rounds to
// sectorsPerCylinder. Pass an explicit alignmentSectors for the
// sector-aligned variant.
func (t *Table) Create(sizeSectors uint32, partType byte, active bool, alignmentSectors uint32) (int, error) {
	if sizeSectors == 0 {
		return 0, fmt.Errorf("mbr: partition size must be nonzero: %w", vdiskerr.ErrBounds)
	}
	if alignmentSectors == 0 {
		alignmentSectors = sectorsPerCylinder
	}

	sector := make([]byte, SectorSize)
	if err := vio.ReadFull(t.stream, sector, 0); err != nil {
		return 0, err
	}

	slot := -1
	for s := 0; s < numPrimaryRecords; s++ {
		r := readRecord(sector, s)
		if !r.valid() {
			slot = s
			break
		}
	}
	if slot == -1 {
		return 0, fmt.Errorf("mbr: no free primary slot: %w", vdiskerr.ErrBounds)
	}

	g, err := t.findGap(sizeSectors, alignmentSectors)
	if err != nil {
		return 0, err
	}

	if active {
		for s := 0; s < numPrimaryRecords; s++ {
			r := readRecord(sector, s)
			if r.valid() {
				r.Status &^= 0x80
				writeRecord(sector, s, r)
			}
		}
	}

	r := record{
		Status:        0,
		PartitionType: partType,
		LBAStart:      g.startLBA,
		LBALength:     g.lengthLBA,
	}
	if active {
		r.Status = 0x80
	}
	r.StartCHS = lbaToCHS(r.LBAStart)
	r.EndCHS = lbaToCHS(r.LBAStart + r.LBALength - 1)
	writeRecord(sector, slot, r)

	if _, err := t.stream.WriteAt(sector, 0); err != nil {
		return 0, fmt.Errorf("mbr: writing boot sector: %w", err)
	}

	parts, err := t.Partitions()
	if err != nil {
		return 0, err
	}
	for _, p := range parts {
		if p.LBAStart == r.LBAStart {
			return p.Index, nil
		}
	}
	return 0, fmt.Errorf("mbr: created partition not found after write: %w", vdiskerr.ErrCorrupt)
}

// Delete zeroes the on-disk record for the partition at index. For a
// logical partition, at any depth of the extended chain, that is the
// partition record in its own EBR; the EBR's link record is left in place.
func (t *Table) Delete(index int) error {
	parts, err := t.Partitions()
	if err != nil {
		return err
	}
	var target *Partition
	for _, p := range parts {
		if p.Index == index {
			target = p
			break
		}
	}
	if target == nil {
		return fmt.Errorf("mbr: no partition at index %d: %w", index, vdiskerr.ErrNotFound)
	}

	sector := make([]byte, SectorSize)
	if err := vio.ReadFull(t.stream, sector, int64(target.recordLBA)*SectorSize); err != nil {
		return err
	}
	off := target.recordOffset
	for i := int64(0); i < recordSize; i++ {
		sector[off+i] = 0
	}
	if _, err := t.stream.WriteAt(sector, int64(target.recordLBA)*SectorSize); err != nil {
		return fmt.Errorf("mbr: writing record: %w", err)
	}
	return nil
}

// SetActive marks the partition at index active (0x80) and clears the
// active bit on every other primary, per spec.md §4.2.
func (t *Table) SetActive(index int) error {
	sector := make([]byte, SectorSize)
	if err := vio.ReadFull(t.stream, sector, 0); err != nil {
		return err
	}
	found := false
	for s := 0; s < numPrimaryRecords; s++ {
		r := readRecord(sector, s)
		if !r.valid() {
			continue
		}
		want := false
		parts, _ := t.Partitions()
		for _, p := range parts {
			if p.Index == index && !p.logical && p.recordOffset == int64(recordsOffset+s*recordSize) {
				want = true
				found = true
			}
		}
		if want {
			r.Status = 0x80
		} else {
			r.Status &^= 0x80
		}
		writeRecord(sector, s, r)
	}
	if !found {
		return fmt.Errorf("mbr: no primary partition at index %d: %w", index, vdiskerr.ErrNotFound)
	}
	if _, err := t.stream.WriteAt(sector, 0); err != nil {
		return fmt.Errorf("mbr: writing boot sector: %w", err)
	}
	return nil
}

// OpenPartition returns a SubStream bounded to the partition at index.
func (t *Table) OpenPartition(index int) (vio.SparseStream, error) {
	parts, err := t.Partitions()
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p.Index == index {
			return vio.NewSubStream(t.stream, int64(p.LBAStart)*SectorSize, int64(p.LBALength)*SectorSize)
		}
	}
	return nil, fmt.Errorf("mbr: no partition at index %d: %w", index, vdiskerr.ErrNotFound)
}
