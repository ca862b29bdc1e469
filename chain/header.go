// Package chain implements the content-addressed header/block chain: the
// 80-byte BlockHeader wire form, the difficulty retarget rule (including
// the "satoshi precision" compact-bits truncation quirk), and the
// HeaderChain index with reorg-driven forward-pointer rewiring.
package chain

import (
	"rubin.dev/spvnode/uint256"
	"rubin.dev/spvnode/wire"
)

// BlockHeader is the fixed 80-byte header; its identity is the
// double-SHA-256 of that form.
type BlockHeader struct {
	Version    int32
	PrevBlock  wire.Hash
	MerkleRoot wire.Hash
	Time       uint32
	Bits       uint32
	Nonce      uint32
}

// Encode writes the canonical 80-byte wire form.
func (h BlockHeader) Encode(w *wire.Writer) {
	w.I32(h.Version)
	w.Hash32(h.PrevBlock)
	w.Hash32(h.MerkleRoot)
	w.U32(h.Time)
	w.U32(h.Bits)
	w.U32(h.Nonce)
}

// DecodeHeader reads the fixed 80-byte header form.
func DecodeHeader(r *wire.Reader) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.Version, err = r.I32(); err != nil {
		return h, err
	}
	if h.PrevBlock, err = r.Hash32(); err != nil {
		return h, err
	}
	if h.MerkleRoot, err = r.Hash32(); err != nil {
		return h, err
	}
	if h.Time, err = r.U32(); err != nil {
		return h, err
	}
	if h.Bits, err = r.U32(); err != nil {
		return h, err
	}
	if h.Nonce, err = r.U32(); err != nil {
		return h, err
	}
	return h, nil
}

// Bytes returns the 80-byte canonical encoding.
func (h BlockHeader) Bytes() []byte {
	w := wire.NewWriter()
	h.Encode(w)
	return w.Bytes()
}

// Hash returns double-SHA-256 of the canonical encoding.
func (h BlockHeader) Hash() wire.Hash {
	return wire.DoubleSHA256(h.Bytes())
}

// Target decodes the header's compact "bits" field into a full 256-bit
// target.
func (h BlockHeader) Target() uint256.Uint256 {
	return CompactToTarget(h.Bits)
}

// CompactToTarget expands a 32-bit compact ("nBits") encoding into a full
// target: the low 3 bytes are the mantissa, the top byte is the byte-
// length exponent.
func CompactToTarget(bits uint32) uint256.Uint256 {
	exponent := int(bits >> 24)
	mantissa := uint256.FromUint64(uint64(bits & 0x007fffff))
	if exponent <= 3 {
		return mantissa.Shr(8 * (3 - exponent))
	}
	return mantissa.Shl(8 * (exponent - 3))
}

// TargetToCompact is the inverse of CompactToTarget, used by the retarget
// computation to encode a new target and when constructing fixture headers
// in tests.
func TargetToCompact(target uint256.Uint256) uint32 {
	bytesLen := (target.Bits() + 7) / 8
	var mantissa uint64
	if bytesLen <= 3 {
		mantissa = target.Shl(8 * (3 - bytesLen)).Words[0] & 0xffffff
	} else {
		mantissa = target.Shr(8 * (bytesLen - 3)).Words[0] & 0xffffff
	}
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		bytesLen++
	}
	return uint32(bytesLen)<<24 | uint32(mantissa)
}

// Work returns work(bits) = floor(2^256 / (target+1)), the proof-of-work
// contribution a single block with this target adds to cumulative work.
func Work(bits uint32) uint256.Uint256 {
	target := CompactToTarget(bits)
	denom := target.Increment()
	if denom.IsZero() {
		// denom == 2^256, i.e. target == max value: work is the smallest
		// possible nonzero contribution.
		return uint256.One
	}
	return twoPow256Div(denom)
}

// twoPow256Div computes floor(2^256 / denom) for denom >= 1 by long
// division over the implicit 257-bit dividend "1" followed by 256 zero
// bits, avoiding the need to represent 2^256 itself (which overflows
// Uint256's 256-bit range).
func twoPow256Div(denom uint256.Uint256) uint256.Uint256 {
	remainder := uint256.One // the leading implicit bit of 2^256
	if remainder.Cmp(denom) >= 0 {
		// denom == 1: 2^256/1 overflows; unreachable for any real target.
		return uint256.Zero
	}
	quotient := uint256.Zero
	for i := 255; i >= 0; i-- {
		remainder = remainder.Shl(1)
		if remainder.Cmp(denom) >= 0 {
			remainder = remainder.Sub(denom)
			quotient = quotient.Xor(uint256.One.Shl(i))
		}
	}
	return quotient
}
