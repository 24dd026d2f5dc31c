package registry

// marvin32 implements the Marvin32 hash Windows uses to checksum registry
// transaction-log entries, per spec.md §6's named seed
// (0x82EF4D887A4E55C5). It returns the two 32-bit halves hash1/hash2 that
// each log entry stores alongside its payload.
func marvin32(data []byte, seed uint64) (hash1, hash2 uint32) {
	lo := uint32(seed)
	hi := uint32(seed >> 32)

	for len(data) >= 4 {
		lo += readU32(data, 0)
		lo, hi = marvinBlock(lo, hi)
		data = data[4:]
	}

	// Final dword: remaining 0-3 bytes, little-endian, followed by a 0x80
	// sentinel byte and zero padding out to the 4-byte boundary.
	var tail [4]byte
	copy(tail[:], data)
	tail[len(data)] = 0x80
	lo += readU32(tail[:], 0)
	lo, hi = marvinBlock(lo, hi)
	lo, hi = marvinBlock(lo, hi)

	return lo, hi
}

func marvinBlock(lo, hi uint32) (uint32, uint32) {
	hi ^= lo
	lo = rotl32(lo, 20)
	lo += hi
	hi = rotl32(hi, 9)
	hi ^= lo
	lo = rotl32(lo, 27)
	lo += hi
	hi = rotl32(hi, 19)
	return lo, hi
}

func rotl32(v uint32, shift uint) uint32 {
	return (v << shift) | (v >> (32 - shift))
}
