package registry

// marvinSeed is the seed spec.md §6 names for transaction-log integrity:
// 0x82EF4D887A4E55C5.
const marvinSeed uint64 = 0x82EF4D887A4E55C5

// logEntryFixedSize is the byte length of a log entry's fixed header:
// Size, Hash1, Hash2, Sequence, PageCount, each a uint32.
//
// This wire layout (a size-prefixed, Marvin-hashed record of dirty-page
// spans) is this module's own design: spec.md marks regf/hbin/cell tags
// and the Marvin hash itself as bit-exact, but says nothing about the
// transaction-log *record* layout, and the real format was not available
// in original_source/ (filtered out by the retrieval size cap). It exists
// to make spec.md §4.5's replay algorithm concretely testable, not to
// read real Windows LOG1/LOG2 files.
const logEntryFixedSize = 20

// dirtyPage is one span of hive bytes a transaction modified, keyed by
// cell index (offset relative to the bin region).
type dirtyPage struct {
	offset uint32
	data   []byte
}

// logEntry is one committed transaction recorded in a log file.
type logEntry struct {
	sequence uint32
	pages    []dirtyPage
}

// logFile is a parsed LOG1/LOG2 file: its own hive-style header, plus the
// run of valid sequential entries starting at offset 0x200.
type logFile struct {
	header      *baseHeader
	headerValid bool
	entries     []logEntry
}

// parseLogFile scans buf for a header and a maximal run of valid,
// strictly-sequential log entries, per spec.md §4.5 step 1: a record
// whose hash doesn't verify, or whose sequence isn't exactly one more
// than the last, ends the scan without erroring.
func parseLogFile(buf []byte) *logFile {
	lf := &logFile{}
	if len(buf) >= headerSize {
		if h, err := parseBaseHeader(buf[:headerSize]); err == nil {
			lf.header = h
			lf.headerValid = h.checksumOK()
		}
	}

	pos := 0x200
	first := true
	var prevSeq uint32
	for pos+logEntryFixedSize <= len(buf) {
		size := int(readU32(buf, pos))
		if size < logEntryFixedSize || pos+size > len(buf) {
			break
		}
		entry := buf[pos : pos+size]

		wantHash1 := readU32(entry, 4)
		wantHash2 := readU32(entry, 8)
		gotHash1, gotHash2 := marvin32(entry[12:], marvinSeed)
		if gotHash1 != wantHash1 || gotHash2 != wantHash2 {
			break
		}

		seq := readU32(entry, 12)
		if !first && seq != prevSeq+1 {
			break
		}

		pageCount := int(readU32(entry, 16))
		pages, ok := parseDirtyPages(entry[logEntryFixedSize:], pageCount)
		if !ok {
			break
		}

		lf.entries = append(lf.entries, logEntry{sequence: seq, pages: pages})
		prevSeq = seq
		first = false
		pos += size
	}

	return lf
}

func parseDirtyPages(buf []byte, count int) ([]dirtyPage, bool) {
	pages := make([]dirtyPage, 0, count)
	pos := 0
	for i := 0; i < count; i++ {
		if pos+8 > len(buf) {
			return nil, false
		}
		off := readU32(buf, pos)
		length := int(readU32(buf, pos+4))
		pos += 8
		if length < 0 || pos+length > len(buf) {
			return nil, false
		}
		pages = append(pages, dirtyPage{offset: off, data: append([]byte{}, buf[pos:pos+length]...)})
		pos += length
	}
	return pages, true
}

// encodeLogEntry serializes one transaction's dirty pages into the wire
// form parseLogFile expects, computing the Marvin hash over the
// sequence+pagecount+payload region. Only the tests call it, to construct
// synthetic log files; nothing in the package writes log records.
func encodeLogEntry(seq uint32, pages []dirtyPage) []byte {
	pageBytes := 0
	for _, p := range pages {
		pageBytes += 8 + len(p.data)
	}

	size := logEntryFixedSize + pageBytes
	entry := make([]byte, size)
	putU32(entry, 0, uint32(size))
	putU32(entry, 12, seq)
	putU32(entry, 16, uint32(len(pages)))
	pos := logEntryFixedSize
	for _, p := range pages {
		putU32(entry, pos, p.offset)
		putU32(entry, pos+4, uint32(len(p.data)))
		copy(entry[pos+8:], p.data)
		pos += 8 + len(p.data)
	}

	h1, h2 := marvin32(entry[12:], marvinSeed)
	putU32(entry, 4, h1)
	putU32(entry, 8, h2)
	return entry
}
