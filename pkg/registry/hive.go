package registry

import (
	"fmt"
	"strings"

	"github.com/vorteil/vdiskfs/pkg/elog"
	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

// Hive is an open Windows Registry hive, per spec.md §4.5. Cell indices
// are offsets relative to the start of the bin region (file offset minus
// 0x1000); the allocator and typed-cell decoders all operate in that
// coordinate space.
type Hive struct {
	stream vio.SparseStream
	log    elog.Logger

	header *baseHeader
	bins   []binInfo

	wasDirty  bool
	recovered bool
}

// LogStreams names the two optional transaction-log files a caller may
// supply to Open for crash recovery.
type LogStreams struct {
	Log1 vio.SparseStream
	Log2 vio.SparseStream
}

// Open loads header, then either enumerates bins directly (clean hive) or
// replays LOG1/LOG2 first, per spec.md §4.5's Load and Log replay steps.
func Open(stream vio.SparseStream, logs LogStreams, log elog.Logger) (*Hive, error) {
	buf := make([]byte, headerSize)
	if err := vio.ReadFull(stream, buf, 0); err != nil {
		return nil, fmt.Errorf("registry: reading header: %w", err)
	}
	header, parseErr := parseBaseHeader(buf)
	headerValid := parseErr == nil && header.checksumOK()

	h := &Hive{stream: stream, log: elog.OrNop(log)}
	if headerValid {
		h.header = header
	}

	dirty := headerValid && !header.clean()
	h.wasDirty = dirty || !headerValid

	if headerValid && !dirty {
		if err := h.scanBins(); err != nil {
			return nil, err
		}
		return h, nil
	}

	if logs.Log1 == nil && logs.Log2 == nil {
		return nil, fmt.Errorf("registry: needs transaction logs to recover: %w", vdiskerr.ErrCorrupt)
	}
	if err := h.recover(headerValid, logs.Log1, logs.Log2); err != nil {
		return nil, err
	}
	h.recovered = true
	return h, nil
}

// Dirty reports whether, at open time, the header's two sequence numbers
// disagreed or the header failed its checksum.
func (h *Hive) Dirty() bool { return h.wasDirty }

// NeedsRecovery reports whether the hive is dirty and has not been brought
// back by log replay. Open fails outright when recovery proves impossible,
// so a live Hive never reports a dirty, unrecovered state and this is false
// for every Hive Open returns; Dirty reports whether Open replayed logs.
func (h *Hive) NeedsRecovery() bool { return h.wasDirty && !h.recovered }

// Root returns the hive's root key.
func (h *Hive) Root() (*Key, error) {
	node, err := h.readKeyNode(int64(h.header.rootCell()))
	if err != nil {
		return nil, err
	}
	return &Key{hive: h, node: node}, nil
}

// recover replays LOG1/LOG2 against the hive per spec.md §4.5's Log
// replay algorithm.
func (h *Hive) recover(headerValid bool, log1, log2 vio.SparseStream) error {
	var lf1, lf2 *logFile
	if log1 != nil {
		buf, err := readWhole(log1)
		if err != nil {
			return err
		}
		lf1 = parseLogFile(buf)
	}
	if log2 != nil {
		buf, err := readWhole(log2)
		if err != nil {
			return err
		}
		lf2 = parseLogFile(buf)
	}

	earlier, later, laterStream := orderLogs(lf1, log1, lf2, log2)

	var useHeader *baseHeader
	if headerValid {
		useHeader = h.header
	} else {
		switch {
		case later != nil && later.headerValid:
			useHeader = later.header
		case earlier != nil && earlier.headerValid:
			useHeader = earlier.header
		}
		if useHeader == nil {
			return fmt.Errorf("registry: transaction logs are corrupt: %w", vdiskerr.ErrCorrupt)
		}
	}
	if earlier == nil && later == nil {
		return fmt.Errorf("registry: needs transaction logs to recover: %w", vdiskerr.ErrCorrupt)
	}

	lastApplied := useHeader.sequence2()
	if earlier != nil {
		for _, e := range earlier.entries {
			if e.sequence < useHeader.sequence2() {
				continue
			}
			if err := h.applyLogEntry(e); err != nil {
				return err
			}
			lastApplied = e.sequence
		}
	}
	if later != nil && len(later.entries) > 0 {
		if later.entries[0].sequence == lastApplied+1 {
			for _, e := range later.entries {
				if err := h.applyLogEntry(e); err != nil {
					return err
				}
				lastApplied = e.sequence
			}
		} else {
			// The later log doesn't continue where the earlier one left
			// off: adopt its sequence number but discard its payload,
			// per spec.md §4.5 step 4, and zero-truncate it if writable.
			lastApplied = later.entries[len(later.entries)-1].sequence
			if laterStream != nil {
				_ = laterStream.SetLength(0)
			}
		}
	}

	h.header = useHeader
	h.header.setSequence1(lastApplied + 1)
	h.header.setSequence2(lastApplied + 1)
	h.header.updateChecksum()
	if _, err := h.stream.WriteAt(h.header.bytes(), 0); err != nil {
		return fmt.Errorf("registry: rewriting header after replay: %w", err)
	}

	return h.scanBins()
}

func (h *Hive) applyLogEntry(e logEntry) error {
	for _, p := range e.pages {
		if _, err := h.stream.WriteAt(p.data, headerSize+int64(p.offset)); err != nil {
			return fmt.Errorf("registry: applying log entry %d: %w", e.sequence, err)
		}
	}
	return nil
}

// orderLogs sorts the two parsed logs by their header's sequence1 (or, if
// the header didn't survive, their first entry's sequence), per spec.md
// §4.5 step 2.
func orderLogs(lf1 *logFile, s1 vio.SparseStream, lf2 *logFile, s2 vio.SparseStream) (earlier, later *logFile, laterStream vio.SparseStream) {
	seq := func(lf *logFile) (uint32, bool) {
		if lf == nil {
			return 0, false
		}
		if lf.headerValid {
			return lf.header.sequence1(), true
		}
		if len(lf.entries) > 0 {
			return lf.entries[0].sequence, true
		}
		return 0, false
	}
	seq1, ok1 := seq(lf1)
	seq2, ok2 := seq(lf2)

	switch {
	case ok1 && ok2:
		if seq1 <= seq2 {
			return lf1, lf2, s2
		}
		return lf2, lf1, s1
	case ok1:
		return lf1, nil, nil
	case ok2:
		return lf2, nil, nil
	default:
		return nil, nil, nil
	}
}

func readWhole(stream vio.SparseStream) ([]byte, error) {
	n, err := stream.Length()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := vio.ReadFull(stream, buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// bumpSequenceAndWrite advances both sequence numbers together (so the
// header stays "clean") and rewrites the header, after a structural
// change such as appending a new bin.
func (h *Hive) bumpSequenceAndWrite() error {
	next := h.header.sequence1() + 1
	h.header.setSequence1(next)
	h.header.setSequence2(next)
	h.header.updateChecksum()
	_, err := h.stream.WriteAt(h.header.bytes(), 0)
	return err
}

func (h *Hive) readKeyNode(idx int64) (keyNode, error) {
	buf, err := h.readCell(idx)
	if err != nil {
		return keyNode{}, err
	}
	return decodeKeyNode(idx, buf)
}

func (h *Hive) writeKeyNode(node *keyNode) error {
	newIdx, err := h.updateCell(node.index, encodeKeyNode(*node), true)
	if err != nil {
		return err
	}
	node.index = newIdx
	return nil
}

// resolveSubKeyEntries flattens a key's subkey list into a single slice of
// (child, hash) entries, expanding "ri" indirect lists by concatenating
// their referenced "lf"/"lh" lists, per spec.md §4.5's SubKeyIndirectListCell.
func (h *Hive) resolveSubKeyEntries(listIdx int32) ([]subKeyListEntry, error) {
	if listIdx < 0 {
		return nil, nil
	}
	buf, err := h.readCell(int64(listIdx))
	if err != nil {
		return nil, err
	}
	list, err := decodeSubKeyList(int64(listIdx), buf)
	if err != nil {
		return nil, err
	}
	if list.tag == sigRI {
		var all []subKeyListEntry
		for _, e := range list.entries {
			sub, err := h.resolveSubKeyEntries(e.Child)
			if err != nil {
				return nil, err
			}
			all = append(all, sub...)
		}
		return all, nil
	}
	return list.entries, nil
}

// loadFlatSubKeyList returns a key's direct (non-"ri") subkey list entries
// along with the cell index that holds them, for mutation.
func (h *Hive) loadFlatSubKeyList(listIdx int32) ([]subKeyListEntry, int64, error) {
	if listIdx < 0 {
		return nil, -1, nil
	}
	buf, err := h.readCell(int64(listIdx))
	if err != nil {
		return nil, 0, err
	}
	list, err := decodeSubKeyList(int64(listIdx), buf)
	if err != nil {
		return nil, 0, err
	}
	if list.tag == sigRI {
		return nil, 0, fmt.Errorf("registry: mutating an indirect (ri) subkey list is not supported: %w", vdiskerr.ErrNotSupported)
	}
	return list.entries, int64(listIdx), nil
}

// findSubKey looks up name among parent's subkeys case-insensitively, per
// spec.md §4.5's "hash-scan, verify each candidate by fetching the child
// nk and comparing names case-insensitively". This implementation scans
// linearly rather than pre-filtering by stored hash before the nk fetch
// (documented as a simplification in DESIGN.md, in the same spirit as
// pkg/squashfs's Lookup not yet exploiting its DirIndex).
func (h *Hive) findSubKey(parent keyNode, name string) (keyNode, bool, error) {
	entries, err := h.resolveSubKeyEntries(parent.subKeys)
	if err != nil {
		return keyNode{}, false, err
	}
	for _, e := range entries {
		child, err := h.readKeyNode(int64(e.Child))
		if err != nil {
			return keyNode{}, false, err
		}
		if strings.EqualFold(child.name, name) {
			return child, true, nil
		}
	}
	return keyNode{}, false, nil
}
