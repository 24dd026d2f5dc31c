package squashfs

import (
	"encoding/binary"
)

// DirEntry is one decoded directory record. Names "." and ".." are never
// produced here; the VFS façade synthesizes them, per spec.md §4.3.
type DirEntry struct {
	Name        string
	InodeNumber uint32
	Type        uint16
	InodeRef    MetadataRef
}

// dirHeader is the {count+1, startBlock, inodeNumberBase} header preceding
// a run of directory records, per spec.md §4.3.
type dirHeader struct {
	Count           uint32
	StartBlock      uint32
	InodeNumberBase uint32
}

// ReadDir decodes every entry in the directory described by inode.
func (r *Reader) ReadDir(inode Inode) ([]DirEntry, error) {
	if inode.Kind != KindDirectory {
		return nil, nil
	}
	if inode.DirSize <= 3 {
		// An empty squashfs directory listing still carries a trailing
		// marker; spec.md's traversal contract treats anything this
		// small as having no records.
		return nil, nil
	}

	mr, err := newMetaReader(r.metablocks, MetadataRef{Block: r.sb.DirTableStart + inode.DirStartBlock, Offset: int(inode.DirOffset)})
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	remaining := inode.DirSize - 3 // the on-disk size field is (listing length - 3)

	for remaining > 0 {
		hbuf := make([]byte, 12)
		if err := mr.read(hbuf); err != nil {
			return nil, err
		}
		h := dirHeader{
			Count:           binary.LittleEndian.Uint32(hbuf[0:4]),
			StartBlock:      binary.LittleEndian.Uint32(hbuf[4:8]),
			InodeNumberBase: binary.LittleEndian.Uint32(hbuf[8:12]),
		}
		remaining -= 12

		for i := uint32(0); i <= h.Count; i++ {
			rbuf := make([]byte, 8)
			if err := mr.read(rbuf); err != nil {
				return nil, err
			}
			offset := binary.LittleEndian.Uint16(rbuf[0:2])
			inodeDelta := int16(binary.LittleEndian.Uint16(rbuf[2:4]))
			entryType := binary.LittleEndian.Uint16(rbuf[4:6])
			nameSize := binary.LittleEndian.Uint16(rbuf[6:8])

			name := make([]byte, int(nameSize)+1)
			if err := mr.read(name); err != nil {
				return nil, err
			}
			remaining -= 8 + len(name)

			entries = append(entries, DirEntry{
				Name:        string(name),
				InodeNumber: uint32(int64(h.InodeNumberBase) + int64(inodeDelta)),
				Type:        entryType,
				InodeRef:    MetadataRef{Block: int64(h.StartBlock), Offset: int(offset)},
			})
		}
	}

	return entries, nil
}

// Lookup finds a single named child within inode's directory listing.
func (r *Reader) Lookup(inode Inode, name string) (DirEntry, bool, error) {
	entries, err := r.ReadDir(inode)
	if err != nil {
		return DirEntry{}, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, true, nil
		}
	}
	return DirEntry{}, false, nil
}
