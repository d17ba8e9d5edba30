// Package record serializes rows into the compact record format stored in
// leaf cells.
//
// A record is a header followed by a body. The header starts with a varint
// giving the header length in bytes (counting that varint itself), then one
// serial type varint per column. The body holds the column payloads in
// column order:
//
//	serial type   payload
//	0             NULL, no bytes
//	1..6          integer, 1/2/3/4/6/8 bytes, big-endian two's complement
//	N>=13, odd    text of (N-13)/2 bytes, UTF-8, no terminator
package record

import (
	"errors"
	"fmt"

	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Serial type codes
const (
	SerialNull      = 0
	SerialInt8      = 1
	SerialInt16     = 2
	SerialInt24     = 3
	SerialInt32     = 4
	SerialInt48     = 5
	SerialInt64     = 6
	SerialTextFirst = 13
)

// ErrNotInteger is returned when the row id column is not an integer.
var ErrNotInteger = fmt.Errorf("%w: row id column must be an integer", dberrors.ErrInvalidInput)

// intWidths maps integer serial types to payload widths.
var intWidths = [...]int{SerialInt8: 1, SerialInt16: 2, SerialInt24: 3, SerialInt32: 4, SerialInt48: 6, SerialInt64: 8}

// SerialType returns the serial type code for v.
func SerialType(v Value) uint64 {
	switch v.Kind {
	case KindInteger:
		return intSerialType(v.Int)
	case KindText:
		return uint64(len(v.Text))*2 + SerialTextFirst
	}
	return SerialNull
}

// intSerialType picks the narrowest integer width that holds i.
func intSerialType(i int64) uint64 {
	for st := SerialInt8; st < SerialInt64; st++ {
		bits := uint(intWidths[st]*8 - 1)
		if i >= -(1<<bits) && i < 1<<bits {
			return uint64(st)
		}
	}
	return SerialInt64
}

// PayloadLen returns the number of body bytes used by a serial type, or -1
// if the code is not valid.
func PayloadLen(serialType uint64) int {
	switch {
	case serialType == SerialNull:
		return 0
	case serialType <= SerialInt64:
		return intWidths[serialType]
	case serialType >= SerialTextFirst && serialType%2 == 1:
		return int((serialType - SerialTextFirst) / 2)
	}
	return -1
}

// Encode serializes r. The first column must be an integer row id.
func Encode(r Record) ([]byte, error) {
	if _, err := r.RowID(); err != nil {
		return nil, err
	}

	types := make([]uint64, len(r))
	typesLen, bodyLen := 0, 0
	for i, v := range r {
		if v.Kind > KindText {
			return nil, fmt.Errorf("%w: column %d has unknown kind %d", dberrors.ErrInvalidInput, i, v.Kind)
		}
		types[i] = SerialType(v)
		typesLen += VarintLen(types[i])
		bodyLen += PayloadLen(types[i])
	}

	// The header size includes its own varint, whose width depends on the size.
	headerSize := typesLen + 1
	for VarintLen(uint64(headerSize))+typesLen != headerSize {
		headerSize = VarintLen(uint64(headerSize)) + typesLen
	}

	buf := make([]byte, 0, headerSize+bodyLen)
	buf = AppendVarint(buf, uint64(headerSize))
	for _, st := range types {
		buf = AppendVarint(buf, st)
	}

	for i, v := range r {
		switch v.Kind {
		case KindInteger:
			buf = appendInt(buf, v.Int, intWidths[types[i]])
		case KindText:
			buf = append(buf, v.Text...)
		}
	}
	return buf, nil
}

// appendInt appends the low width bytes of i, most significant first.
func appendInt(buf []byte, i int64, width int) []byte {
	for shift := (width - 1) * 8; shift >= 0; shift -= 8 {
		buf = append(buf, byte(i>>uint(shift)))
	}
	return buf
}

// readInt reads a sign-extended big-endian integer of len(p) bytes.
func readInt(p []byte) int64 {
	var u uint64
	for _, b := range p {
		u = u<<8 | uint64(b)
	}
	shift := uint(64 - 8*len(p))
	return int64(u<<shift) >> shift
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (Record, error) {
	headerSize, n := GetVarint(data)
	if n <= 0 {
		return nil, dberrors.NewDecode("record", 0, "truncated header size")
	}
	if headerSize > uint64(len(data)) || headerSize < uint64(n) {
		return nil, dberrors.NewDecode("record", 0,
			fmt.Sprintf("header size %d out of range for %d byte record", headerSize, len(data)))
	}

	// Walk the whole header before touching the body.
	var types []uint64
	offset := n
	for offset < int(headerSize) {
		st, m := GetVarint(data[offset:headerSize])
		if m <= 0 {
			return nil, dberrors.NewDecode("record", offset, "truncated serial type")
		}
		if PayloadLen(st) < 0 {
			return nil, dberrors.NewDecode("record", offset, fmt.Sprintf("invalid serial type %d", st))
		}
		types = append(types, st)
		offset += m
	}

	r := make(Record, len(types))
	for i, st := range types {
		size := PayloadLen(st)
		if offset+size > len(data) {
			return nil, dberrors.NewDecode("record", offset,
				fmt.Sprintf("column %d needs %d bytes, %d left", i, size, len(data)-offset))
		}
		payload := data[offset : offset+size]
		switch {
		case st == SerialNull:
			r[i] = Null()
		case st <= SerialInt64:
			r[i] = Integer(readInt(payload))
		default:
			r[i] = Text(string(payload))
		}
		offset += size
	}

	if offset != len(data) {
		return nil, dberrors.NewDecode("record", offset,
			fmt.Sprintf("%d trailing bytes after last column", len(data)-offset))
	}
	return r, nil
}

// IsDecodeError reports whether err came from malformed record bytes.
func IsDecodeError(err error) bool {
	return errors.Is(err, dberrors.ErrDecode)
}
