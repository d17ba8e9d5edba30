package page

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Cell is one entry of a page. Leaf cells carry a record; interior cells
// carry the page number of the subtree holding keys <= RowID.
type Cell struct {
	RowID  int64         // Sort key
	Record record.Record // Decoded record (leaf cells only)
	Child  uint32        // Left child page number (interior cells only)

	payload []byte // Encoded record (leaf cells only)
}

// NewLeafCell encodes rec into a leaf cell keyed by its row id.
func NewLeafCell(rec record.Record) (Cell, error) {
	rowid, err := rec.RowID()
	if err != nil {
		return Cell{}, err
	}
	payload, err := record.Encode(rec)
	if err != nil {
		return Cell{}, err
	}
	return Cell{RowID: rowid, Record: rec, payload: payload}, nil
}

// NewInteriorCell returns a routing cell pointing at child.
func NewInteriorCell(rowid int64, child uint32) Cell {
	return Cell{RowID: rowid, Child: child}
}

// Payload returns the encoded record of a leaf cell.
func (c Cell) Payload() []byte {
	return c.payload
}

// leafSize is the serialized size of a leaf cell.
func (c Cell) leafSize() int {
	return record.VarintLen(uint64(len(c.payload))) + record.VarintLen(uint64(c.RowID)) + len(c.payload)
}

// interiorSize is the serialized size of an interior cell.
func (c Cell) interiorSize() int {
	return 4 + record.VarintLen(uint64(c.RowID))
}

// Size returns the serialized size of c on a page of the given kind.
func (c Cell) Size(kind Kind) int {
	if kind == KindInterior {
		return c.interiorSize()
	}
	return c.leafSize()
}

// appendLeaf appends varint(len(record)) varint(rowid) record.
func (c Cell) appendLeaf(buf []byte) []byte {
	buf = record.AppendVarint(buf, uint64(len(c.payload)))
	buf = record.AppendVarint(buf, uint64(c.RowID))
	return append(buf, c.payload...)
}

// appendInterior appends u32be(child) varint(rowid).
func (c Cell) appendInterior(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, c.Child)
	return record.AppendVarint(buf, uint64(c.RowID))
}

// parseLeafCell decodes a leaf cell that must occupy exactly data.
func parseLeafCell(data []byte, offset int) (Cell, error) {
	size, n := record.GetVarint(data)
	if n <= 0 {
		return Cell{}, dberrors.NewDecode("leaf cell", offset, "truncated record length")
	}
	rowid, m := record.GetVarint(data[n:])
	if m <= 0 {
		return Cell{}, dberrors.NewDecode("leaf cell", offset+n, "truncated row id")
	}
	start := n + m
	if uint64(len(data)-start) != size {
		return Cell{}, dberrors.NewDecode("leaf cell", offset,
			fmt.Sprintf("record length %d does not match cell length %d", size, len(data)-start))
	}

	payload := make([]byte, size)
	copy(payload, data[start:])
	rec, err := record.Decode(payload)
	if err != nil {
		return Cell{}, fmt.Errorf("leaf cell at offset %d: %w", offset, err)
	}
	if id, err := rec.RowID(); err != nil || id != int64(rowid) {
		return Cell{}, dberrors.NewDecode("leaf cell", offset,
			fmt.Sprintf("cell row id %d does not match record", int64(rowid)))
	}
	return Cell{RowID: int64(rowid), Record: rec, payload: payload}, nil
}

// parseInteriorCell decodes an interior cell that must occupy exactly data.
func parseInteriorCell(data []byte, offset int) (Cell, error) {
	if len(data) < 5 {
		return Cell{}, dberrors.NewDecode("interior cell", offset, "cell too small")
	}
	child := binary.BigEndian.Uint32(data)
	rowid, n := record.GetVarint(data[4:])
	if n <= 0 || 4+n != len(data) {
		return Cell{}, dberrors.NewDecode("interior cell", offset+4, "malformed row id")
	}
	return Cell{RowID: int64(rowid), Child: child}, nil
}
