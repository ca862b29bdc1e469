package wire

import (
	"bytes"
	"encoding/binary"
)

// Writer accumulates the codec's primitives into a byte buffer. Encoding
// never fails (every valid in-memory value has a valid wire form), so
// its methods have no error return.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) {
	w.buf.Write(b)
}

// U8 appends a single byte.
func (w *Writer) U8(v uint8) {
	w.buf.WriteByte(v)
}

// Bool appends a 1-byte boolean.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// U16 appends a little-endian uint16.
func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// I32 appends a little-endian int32.
func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// I64 appends a little-endian int64.
func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

// Hash32 appends a Hash verbatim.
func (w *Writer) Hash32(h Hash) {
	w.buf.Write(h[:])
}

// CompactSize appends the canonical (smallest-tag) CompactSize encoding of n.
func (w *Writer) CompactSize(n uint64) {
	switch {
	case n < 0xfd:
		w.U8(uint8(n))
	case n <= 0xffff:
		w.U8(0xfd)
		w.U16(uint16(n))
	case n <= 0xffffffff:
		w.U8(0xfe)
		w.U32(uint32(n))
	default:
		w.U8(0xff)
		w.U64(n)
	}
}

// VarBytes appends a CompactSize length prefix followed by b.
func (w *Writer) VarBytes(b []byte) {
	w.CompactSize(uint64(len(b)))
	w.buf.Write(b)
}

// VarString appends s as a CompactSize-length-prefixed byte sequence.
func (w *Writer) VarString(s string) {
	w.VarBytes([]byte(s))
}

// CommandString appends a fixed 12-byte right-NUL-padded command name.
// Panics if cmd is not representable: an unencodable command is a
// programmer error, not a wire condition.
func (w *Writer) CommandString(cmd string) {
	if len(cmd) > 12 {
		panic("wire: command string longer than 12 bytes: " + cmd)
	}
	var b [12]byte
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		if c < 0x20 || c > 0x7e {
			panic("wire: non-printable-ASCII command byte: " + cmd)
		}
		b[i] = c
	}
	w.buf.Write(b[:])
}

// CheckedData appends the u32 length, u32 checksum, then payload.
func (w *Writer) CheckedData(payload []byte) {
	w.U32(uint32(len(payload)))
	c := checksum4(payload)
	w.buf.Write(c[:])
	w.buf.Write(payload)
}
