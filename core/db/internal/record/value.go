package record

import (
	"fmt"
	"strconv"
)

// Kind is the storage class of a column value.
type Kind uint8

const (
	KindNull    Kind = iota // SQL NULL
	KindInteger             // 64-bit signed integer
	KindText                // UTF-8 text
)

// String returns the SQL name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInteger:
		return "INTEGER"
	case KindText:
		return "TEXT"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is one typed column of a record.
type Value struct {
	Kind Kind
	Int  int64
	Text string
}

// Null returns a NULL value.
func Null() Value {
	return Value{Kind: KindNull}
}

// Integer returns an integer value.
func Integer(i int64) Value {
	return Value{Kind: KindInteger, Int: i}
}

// Text returns a text value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// Equal reports whether v and o have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.Int == o.Int
	case KindText:
		return v.Text == o.Text
	}
	return true
}

// Any converts v to a plain Go value: nil, int64 or string.
func (v Value) Any() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindText:
		return v.Text
	}
	return nil
}

// String renders v the way the shell prints it.
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindText:
		return v.Text
	}
	return "NULL"
}

// Record is an ordered row of values. By convention the first column is an
// integer holding the row id.
type Record []Value

// RowID returns the first column as the record's row id.
func (r Record) RowID() (int64, error) {
	if len(r) == 0 {
		return 0, fmt.Errorf("%w: empty record has no row id", ErrNotInteger)
	}
	if r[0].Kind != KindInteger {
		return 0, fmt.Errorf("%w: first column is %s", ErrNotInteger, r[0].Kind)
	}
	return r[0].Int, nil
}

// Equal reports whether two records hold the same values in the same order.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Clone returns a copy of r that shares no backing array.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	copy(out, r)
	return out
}
