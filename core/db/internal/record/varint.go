package record

import "encoding/binary"

// Variable-length integers are little-endian base-128: seven data bits per
// byte, least significant group first, high bit set on every byte except
// the last. A uint64 takes at most MaxVarintLen bytes.

// MaxVarintLen is the longest encoding of a 64-bit varint.
const MaxVarintLen = binary.MaxVarintLen64

// PutVarint writes v to p and returns the number of bytes written.
// p must have room for VarintLen(v) bytes.
func PutVarint(p []byte, v uint64) int {
	return binary.PutUvarint(p, v)
}

// AppendVarint appends the encoding of v to p.
func AppendVarint(p []byte, v uint64) []byte {
	return binary.AppendUvarint(p, v)
}

// GetVarint reads a varint from p and returns the value and the number of
// bytes read. n is 0 if p ends mid-varint and negative on overflow.
func GetVarint(p []byte) (v uint64, n int) {
	return binary.Uvarint(p)
}

// VarintLen returns the number of bytes required to encode v.
func VarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
