// Package sequence holds the parts shared by all sound-driver decoders:
// a bounds-checked cursor over the song data, loop and subroutine stacks,
// the per-track decode context and cross-track loop balancing.
package sequence

import (
	"github.com/pkg/errors"
)

var (
	// ErrOutOfRange is returned when a read would go past the end of the data.
	ErrOutOfRange = errors.New("read past end of data")
	// ErrStackOverflow is returned when a loop or call stack is full.
	ErrStackOverflow = errors.New("stack overflow")
	// ErrStackUnderflow is returned when popping an empty stack.
	ErrStackUnderflow = errors.New("stack underflow")
	// ErrUnknownOpcode is returned for opcodes without a known length.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrOutputTooLarge is returned when a track exceeds the output size limit.
	ErrOutputTooLarge = errors.New("output size limit exceeded")
)

// Cursor reads little-endian values from song data and fails instead of
// reading past its end.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor creates a cursor positioned at pos.
func NewCursor(data []byte, pos int) *Cursor {
	return &Cursor{data: data, pos: pos}
}

// Pos returns the current offset.
func (c *Cursor) Pos() int {
	return c.pos
}

// Data returns the underlying data.
func (c *Cursor) Data() []byte {
	return c.data
}

// Seek moves the cursor to pos.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos >= len(c.data) {
		return errors.Wrapf(ErrOutOfRange, "seek to 0x%04X", pos)
	}
	c.pos = pos
	return nil
}

// AtEnd reports whether no bytes are left.
func (c *Cursor) AtEnd() bool {
	return c.pos >= len(c.data)
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	if c.pos >= len(c.data) {
		return 0
	}
	return len(c.data) - c.pos
}

// Peek returns the byte at the cursor plus off without moving.
func (c *Cursor) Peek(off int) (byte, error) {
	p := c.pos + off
	if p < 0 || p >= len(c.data) {
		return 0, errors.Wrapf(ErrOutOfRange, "offset 0x%04X", p)
	}
	return c.data[p], nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if c.pos+n > len(c.data) {
		return errors.Wrapf(ErrOutOfRange, "skip %d bytes at 0x%04X", n, c.pos)
	}
	c.pos += n
	return nil
}

// U8 reads one byte.
func (c *Cursor) U8() (byte, error) {
	b, err := c.Peek(0)
	if err != nil {
		return 0, err
	}
	c.pos++
	return b, nil
}

// LE16 reads a little-endian 16-bit value.
func (c *Cursor) LE16() (uint16, error) {
	v, err := ReadLE16(c.data, c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 2
	return v, nil
}

// Bytes reads n bytes. The returned slice aliases the song data.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.data) {
		return nil, errors.Wrapf(ErrOutOfRange, "read %d bytes at 0x%04X", n, c.pos)
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadLE16 reads a little-endian 16-bit value at pos.
func ReadLE16(data []byte, pos int) (uint16, error) {
	if pos < 0 || pos+2 > len(data) {
		return 0, errors.Wrapf(ErrOutOfRange, "offset 0x%04X", pos)
	}
	return uint16(data[pos]) | uint16(data[pos+1])<<8, nil
}

// ReadLE24 reads a little-endian 24-bit value at pos.
func ReadLE24(data []byte, pos int) (uint32, error) {
	if pos < 0 || pos+3 > len(data) {
		return 0, errors.Wrapf(ErrOutOfRange, "offset 0x%04X", pos)
	}
	return uint32(data[pos]) | uint32(data[pos+1])<<8 | uint32(data[pos+2])<<16, nil
}
