package smfio

import "encoding/binary"

// growStep is the allocation granularity of a Buffer (32 KB blocks).
const growStep = 0x8000

// Buffer is a growable byte sink. It never truncates; capacity is
// extended in 32 KB steps whenever a write would overflow it.
type Buffer struct {
	data []byte
}

// NewBuffer creates a Buffer with at least capHint bytes preallocated.
func NewBuffer(capHint int) *Buffer {
	b := &Buffer{}
	b.EnsureCapacity(capHint)
	return b
}

// EnsureCapacity guarantees that n more bytes fit without reallocating.
func (b *Buffer) EnsureCapacity(n int) {
	need := len(b.data) + n
	if need <= cap(b.data) {
		return
	}
	newCap := cap(b.data)
	for newCap < need {
		newCap += growStep
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// WriteByte appends a single byte. The error is always nil.
func (b *Buffer) WriteByte(c byte) error {
	b.EnsureCapacity(1)
	b.data = append(b.data, c)
	return nil
}

// Write appends p. It implements io.Writer and never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.EnsureCapacity(len(p))
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteBE16 appends v in big-endian order.
func (b *Buffer) WriteBE16(v uint16) {
	b.EnsureCapacity(2)
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

// WriteBE32 appends v in big-endian order.
func (b *Buffer) WriteBE32(v uint32) {
	b.EnsureCapacity(4)
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

// WriteVarLen appends v as a variable-length quantity.
func (b *Buffer) WriteVarLen(v uint32) {
	b.EnsureCapacity(VarLenSize(v))
	b.data = AppendVarLen(b.data, v)
}

// PutBE32At overwrites the 4 bytes at off with v (used to patch chunk lengths).
func (b *Buffer) PutBE32At(off int, v uint32) {
	binary.BigEndian.PutUint32(b.data[off:off+4], v)
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the written bytes. The slice aliases the buffer until the next write.
func (b *Buffer) Bytes() []byte {
	return b.data
}
