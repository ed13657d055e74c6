// Package smfio writes and merges Standard MIDI Files at the byte level.
//
// The Writer emits MThd/MTrk chunks into a growable Buffer, prepending
// every event with its VarLen delta-time and draining running notes
// whose duration elapses before that event.
package smfio

import "errors"

// MaxVarLen is the largest value a 4-byte variable-length quantity can hold.
const MaxVarLen = 0x0FFFFFFF

var (
	// ErrVarLenTruncated is returned when a variable-length value runs past the data.
	ErrVarLenTruncated = errors.New("variable-length value runs past end of data")
	// ErrVarLenTooLong is returned when a variable-length value uses more than 4 bytes.
	ErrVarLenTooLong = errors.New("variable-length value longer than 4 bytes")
)

// VarLenSize returns the number of bytes EncodeVarLen produces for v.
func VarLenSize(v uint32) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// AppendVarLen appends the MIDI variable-length encoding of v to dst.
func AppendVarLen(dst []byte, v uint32) []byte {
	n := VarLenSize(v)
	var tmp [5]byte
	for i := n - 1; i >= 0; i-- {
		tmp[i] = 0x80 | byte(v&0x7F)
		v >>= 7
	}
	tmp[n-1] &= 0x7F
	return append(dst, tmp[:n]...)
}

// EncodeVarLen returns the MIDI variable-length encoding of v.
func EncodeVarLen(v uint32) []byte {
	return AppendVarLen(nil, v)
}

// DecodeVarLen reads one variable-length value starting at buf[pos].
// It returns the value and the number of bytes consumed.
func DecodeVarLen(buf []byte, pos int) (uint32, int, error) {
	var acc uint32
	for n := 0; n < 4; n++ {
		if pos+n >= len(buf) || pos < 0 {
			return 0, 0, ErrVarLenTruncated
		}
		b := buf[pos+n]
		acc = (acc << 7) | uint32(b&0x7F)
		if b&0x80 == 0 {
			return acc, n + 1, nil
		}
	}
	return 0, 0, ErrVarLenTooLong
}
