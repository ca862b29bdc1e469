package chain

import "rubin.dev/spvnode/wire"

// MerkleRoot computes the Bitcoin merkle root over txids: pairwise
// double-SHA-256, duplicating the last element when a level has an odd
// count, until one hash remains. Returns the zero hash for an empty input.
func MerkleRoot(txids []wire.Hash) wire.Hash {
	if len(txids) == 0 {
		return wire.ZeroHash
	}
	level := make([]wire.Hash, len(txids))
	copy(level, txids)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]wire.Hash, len(level)/2)
		for i := range next {
			var buf [64]byte
			copy(buf[:32], level[2*i][:])
			copy(buf[32:], level[2*i+1][:])
			next[i] = wire.DoubleSHA256(buf[:])
		}
		level = next
	}
	return level[0]
}
