package wire

import "encoding/binary"

// Reader decodes the codec's primitives from an in-memory byte slice,
// tracking position on a single cursor.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return codecErr(ErrShortRead, "not enough bytes remaining")
	}
	return nil
}

// Bytes reads n raw bytes verbatim.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool reads a 1-byte boolean (0 = false, nonzero = true).
func (r *Reader) Bool() (bool, error) {
	b, err := r.U8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// I32 reads a little-endian int32.
func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// I64 reads a little-endian int64.
func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// Hash32 reads a 32-byte Hash verbatim (no byte-order transformation; the
// wire layout already matches the in-memory layout).
func (r *Reader) Hash32() (Hash, error) {
	b, err := r.Bytes(32)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// CompactSize decodes a CompactSize (VarInt) integer. The decoder is
// deliberately lenient: peers on the wire produce non-canonical
// encodings and they must still decode. Only the encoder is required to
// emit the minimal form.
func (r *Reader) CompactSize() (uint64, error) {
	tag, err := r.U8()
	if err != nil {
		return 0, err
	}
	switch {
	case tag < 0xfd:
		return uint64(tag), nil
	case tag == 0xfd:
		v, err := r.U16()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	case tag == 0xfe:
		v, err := r.U32()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	default: // 0xff
		v, err := r.U64()
		if err != nil {
			return 0, err
		}
		return v, nil
	}
}

// VarBytes reads a CompactSize-length-prefixed byte sequence. The
// declared length is checked against the remaining bytes while still a
// uint64: converting first would let a length past 2^63 wrap negative
// and panic in the slice expression instead of failing the decode.
func (r *Reader) VarBytes() ([]byte, error) {
	n, err := r.CompactSize()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, codecErr(ErrShortRead, "declared length exceeds remaining bytes")
	}
	return r.Bytes(int(n))
}

// CheckCount validates a decoded element count against the remaining
// bytes: n elements of at least minElemSize bytes each cannot fit in
// fewer than n*minElemSize bytes, so a forged count is rejected before
// it ever reaches the allocator.
func (r *Reader) CheckCount(n uint64, minElemSize int) error {
	if n > uint64(r.Remaining())/uint64(minElemSize) {
		return codecErr(ErrShortRead, "declared count exceeds remaining payload")
	}
	return nil
}

// VarString reads a CompactSize-length-prefixed UTF-8(ish) string.
func (r *Reader) VarString() (string, error) {
	b, err := r.VarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CommandString reads a fixed 12-byte right-NUL-padded ASCII command name.
func (r *Reader) CommandString() (string, error) {
	b, err := r.Bytes(12)
	if err != nil {
		return "", err
	}
	end := 12
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	for _, c := range b[end:] {
		if c != 0 {
			return "", codecErr(ErrBadCommand, "non-NUL byte after command terminator")
		}
	}
	for _, c := range b[:end] {
		if c < 0x20 || c > 0x7e {
			return "", codecErr(ErrBadCommand, "non-printable-ASCII byte in command")
		}
	}
	return string(b[:end]), nil
}

// CheckedData reads a u32 length, u32 checksum, then that many payload
// bytes, verifying the checksum (first 4 bytes of double-SHA-256 of the
// payload) matches.
func (r *Reader) CheckedData() ([]byte, error) {
	length, err := r.U32()
	if err != nil {
		return nil, err
	}
	checksum, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	payload, err := r.Bytes(int(length))
	if err != nil {
		return nil, err
	}
	want := checksum4(payload)
	for i := 0; i < 4; i++ {
		if want[i] != checksum[i] {
			return nil, codecErr(ErrBadChecksum, "checksum mismatch")
		}
	}
	return payload, nil
}

func checksum4(payload []byte) [4]byte {
	h := DoubleSHA256(payload)
	var c [4]byte
	copy(c[:], h[:4])
	return c
}
