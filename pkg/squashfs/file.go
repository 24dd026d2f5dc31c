package squashfs

// ReadFile implements FileContentBuffer.read(pos, len) from spec.md §4.3:
// copies up to len(p) bytes of the regular file described by inode,
// starting at byte offset pos, into p, returning the number of bytes
// copied. A short count (less than len(p)) means end of file; it is not
// an error.
func (r *Reader) ReadFile(inode Inode, pos int64, p []byte) (int, error) {
	if pos >= inode.Size {
		return 0, nil
	}

	blockSize := int64(r.sb.BlockSize)
	blockCount := blockCountFor(inode.Size, inode.Fragment, blockSize)

	var startOfFragment int64
	if inode.Fragment == NoFragment {
		startOfFragment = blockCount * blockSize
	} else {
		startOfFragment = (inode.Size / blockSize) * blockSize
	}

	total := 0
	remaining := len(p)

	currentBlockDiskStart := inode.StartBlock
	blockBase := int64(0)
	for i := int64(0); i < blockCount && remaining > 0; i++ {
		blockEnd := blockBase + blockSize
		if blockEnd > startOfFragment {
			blockEnd = startOfFragment
		}

		if pos < blockEnd && blockBase < startOfFragment {
			data, err := r.readDataBlock(currentBlockDiskStart, inode.BlockLengths[i])
			if err != nil {
				return total, err
			}

			if pos >= blockBase {
				offsetInBlock := int(pos - blockBase)
				if offsetInBlock < len(data) {
					n := copy(p[total:], data[offsetInBlock:])
					total += n
					remaining -= n
					pos += int64(n)
				}
			}
		}

		currentBlockDiskStart += int64(inode.BlockLengths[i] & 0xFFFFFF)
		blockBase += blockSize
	}

	if remaining > 0 && pos >= startOfFragment && inode.Fragment != NoFragment {
		frag, err := r.Fragment(inode.Fragment)
		if err != nil {
			return total, err
		}
		data, err := r.readDataBlock(frag.Start, frag.LengthWord)
		if err != nil {
			return total, err
		}

		fragStart := int(inode.FragOffset) + int(pos-startOfFragment)
		fragEnd := int(inode.FragOffset) + int(inode.Size-startOfFragment)
		if fragEnd > len(data) {
			fragEnd = len(data)
		}
		if fragStart < fragEnd {
			n := copy(p[total:], data[fragStart:fragEnd])
			total += n
		}
	}

	return total, nil
}
