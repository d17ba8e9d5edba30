// Package page implements the on-disk layout of B-tree pages.
//
// Every page starts with a header:
//
//	offset  size  field
//	0       1     page number (low 8 bits)
//	1       1     page kind (0 leaf, 1 interior)
//	2       2     free-block pointer (unused, always zero)
//	4       2     cell count
//	6       2     cell content start (0 means 65536)
//	8       4     right-most child (interior pages only)
//
// The header is followed by the cell directory: one big-endian 2-byte cell
// length per cell, in row id order. Cell payloads are concatenated in the
// same order and end at the last byte of the page, so free space sits
// between the directory and the content start.
package page

import (
	"encoding/binary"
	"fmt"
	"slices"

	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Kind distinguishes leaf pages from interior pages.
type Kind uint8

const (
	KindLeaf     Kind = 0 // Holds records
	KindInterior Kind = 1 // Holds routing keys and child pointers
)

// String returns a readable page kind.
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInterior:
		return "interior"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Header offsets
const (
	OffsetNumber       = 0
	OffsetKind         = 1
	OffsetFreeblock    = 2
	OffsetNumCells     = 4
	OffsetContentStart = 6
	OffsetRightChild   = 8
)

// Header sizes
const (
	HeaderSizeLeaf     = 8
	HeaderSizeInterior = 12
	dirEntrySize       = 2
)

// Page is the in-memory form of one B-tree page.
type Page struct {
	Number     uint32 // Page number within the file
	Kind       Kind   // Leaf or interior
	RightChild uint32 // Right-most child (interior pages only)
	Cells      []Cell // Cells sorted by ascending row id
	Size       int    // Page size in bytes
}

// NewLeaf returns an empty leaf page.
func NewLeaf(number uint32, size int) *Page {
	return &Page{Number: number, Kind: KindLeaf, Size: size}
}

// NewInterior returns an empty interior page whose right-most child is right.
func NewInterior(number uint32, size int, right uint32) *Page {
	return &Page{Number: number, Kind: KindInterior, RightChild: right, Size: size}
}

// IsLeaf reports whether p is a leaf page.
func (p *Page) IsLeaf() bool {
	return p.Kind == KindLeaf
}

// HeaderSize returns the size of the fixed header for this page kind.
func (p *Page) HeaderSize() int {
	if p.Kind == KindInterior {
		return HeaderSizeInterior
	}
	return HeaderSizeLeaf
}

// contentSize returns the total size of all cell payloads.
func (p *Page) contentSize() int {
	total := 0
	for _, c := range p.Cells {
		total += c.Size(p.Kind)
	}
	return total
}

// Used returns the number of bytes the serialized page occupies.
func (p *Page) Used() int {
	return p.HeaderSize() + len(p.Cells)*dirEntrySize + p.contentSize()
}

// FreeSpace returns the bytes left between the directory and the content.
func (p *Page) FreeSpace() int {
	return p.Size - p.Used()
}

// Fits reports whether c could be added without overflowing the page.
func (p *Page) Fits(c Cell) bool {
	return p.Used()+dirEntrySize+c.Size(p.Kind) <= p.Size
}

// Search returns the index of the first cell with row id >= rowid and
// whether that cell's row id equals rowid.
func (p *Page) Search(rowid int64) (int, bool) {
	return slices.BinarySearchFunc(p.Cells, rowid, func(c Cell, k int64) int {
		switch {
		case c.RowID < k:
			return -1
		case c.RowID > k:
			return 1
		}
		return 0
	})
}

// ChildFor returns the directory index and child page that covers rowid on
// an interior page: the left child of the first key >= rowid, or the
// right-most child when rowid exceeds every key.
func (p *Page) ChildFor(rowid int64) (int, uint32) {
	idx, _ := p.Search(rowid)
	return idx, p.ChildAt(idx)
}

// ChildAt returns the child pointer at directory index idx, where
// idx == len(Cells) names the right-most child.
func (p *Page) ChildAt(idx int) uint32 {
	if idx < len(p.Cells) {
		return p.Cells[idx].Child
	}
	return p.RightChild
}

// SetChildAt replaces the child pointer at directory index idx.
func (p *Page) SetChildAt(idx int, child uint32) {
	if idx < len(p.Cells) {
		p.Cells[idx].Child = child
		return
	}
	p.RightChild = child
}

// AddCell inserts c in sorted position. It fails with a duplicate-key error
// if the row id is present and with ErrPageFull if the page would overflow.
func (p *Page) AddCell(c Cell) error {
	idx, found := p.Search(c.RowID)
	if found {
		return &dberrors.DuplicateKeyError{RowID: c.RowID, Page: p.Number}
	}
	if !p.Fits(c) {
		return fmt.Errorf("%w: page %d needs %d bytes, has %d",
			dberrors.ErrPageFull, p.Number, c.Size(p.Kind)+dirEntrySize, p.FreeSpace())
	}
	p.Cells = slices.Insert(p.Cells, idx, c)
	return nil
}

// Bytes serializes the page into exactly Size bytes.
func (p *Page) Bytes() ([]byte, error) {
	if p.Used() > p.Size {
		return nil, fmt.Errorf("%w: page %d uses %d of %d bytes", dberrors.ErrPageFull, p.Number, p.Used(), p.Size)
	}

	buf := make([]byte, p.Size)
	contentStart := p.Size - p.contentSize()

	buf[OffsetNumber] = byte(p.Number)
	buf[OffsetKind] = byte(p.Kind)
	binary.BigEndian.PutUint16(buf[OffsetNumCells:], uint16(len(p.Cells)))
	binary.BigEndian.PutUint16(buf[OffsetContentStart:], uint16(contentStart))
	if p.Kind == KindInterior {
		binary.BigEndian.PutUint32(buf[OffsetRightChild:], p.RightChild)
	}

	dir := p.HeaderSize()
	content := buf[contentStart:contentStart]
	for _, c := range p.Cells {
		before := len(content)
		if p.Kind == KindInterior {
			content = c.appendInterior(content)
		} else {
			content = c.appendLeaf(content)
		}
		binary.BigEndian.PutUint16(buf[dir:], uint16(len(content)-before))
		dir += dirEntrySize
	}
	return buf, nil
}

// Parse decodes a page previously produced by Bytes. A zero-filled buffer
// parses as an empty leaf.
func Parse(data []byte, number uint32) (*Page, error) {
	if len(data) < HeaderSizeLeaf {
		return nil, dberrors.NewDecode("page", 0, fmt.Sprintf("page %d is only %d bytes", number, len(data)))
	}

	p := &Page{Number: number, Kind: Kind(data[OffsetKind]), Size: len(data)}
	if p.Kind != KindLeaf && p.Kind != KindInterior {
		return nil, dberrors.NewDecode("page", OffsetKind, fmt.Sprintf("page %d has invalid kind %d", number, data[OffsetKind]))
	}
	if p.Kind == KindInterior {
		if len(data) < HeaderSizeInterior {
			return nil, dberrors.NewDecode("page", 0, fmt.Sprintf("interior page %d is only %d bytes", number, len(data)))
		}
		p.RightChild = binary.BigEndian.Uint32(data[OffsetRightChild:])
	}

	numCells := int(binary.BigEndian.Uint16(data[OffsetNumCells:]))
	contentStart := int(binary.BigEndian.Uint16(data[OffsetContentStart:]))
	if contentStart == 0 {
		contentStart = len(data)
	}

	dirEnd := p.HeaderSize() + numCells*dirEntrySize
	if dirEnd > contentStart || contentStart > len(data) {
		return nil, dberrors.NewDecode("page", OffsetContentStart,
			fmt.Sprintf("page %d: directory end %d overlaps content start %d", number, dirEnd, contentStart))
	}

	p.Cells = make([]Cell, 0, numCells)
	offset := contentStart
	for i := 0; i < numCells; i++ {
		length := int(binary.BigEndian.Uint16(data[p.HeaderSize()+i*dirEntrySize:]))
		if offset+length > len(data) {
			return nil, dberrors.NewDecode("page", offset,
				fmt.Sprintf("page %d: cell %d of %d bytes runs past end of page", number, i, length))
		}

		var c Cell
		var err error
		if p.Kind == KindInterior {
			c, err = parseInteriorCell(data[offset:offset+length], offset)
		} else {
			c, err = parseLeafCell(data[offset:offset+length], offset)
		}
		if err != nil {
			return nil, fmt.Errorf("page %d cell %d: %w", number, i, err)
		}
		if i > 0 && c.RowID <= p.Cells[i-1].RowID {
			return nil, dberrors.NewDecode("page", offset,
				fmt.Sprintf("page %d: cell %d row id %d out of order", number, i, c.RowID))
		}
		p.Cells = append(p.Cells, c)
		offset += length
	}

	if offset != len(data) {
		return nil, dberrors.NewDecode("page", offset,
			fmt.Sprintf("page %d: %d unaccounted content bytes", number, len(data)-offset))
	}
	return p, nil
}

// Clone returns a deep copy of p renumbered as number.
func (p *Page) Clone(number uint32) *Page {
	out := *p
	out.Number = number
	out.Cells = slices.Clone(p.Cells)
	return &out
}

// String returns a one-line summary of the page.
func (p *Page) String() string {
	if p.Kind == KindInterior {
		return fmt.Sprintf("Page{number=%d, kind=%s, cells=%d, right=%d, free=%d}",
			p.Number, p.Kind, len(p.Cells), p.RightChild, p.FreeSpace())
	}
	return fmt.Sprintf("Page{number=%d, kind=%s, cells=%d, free=%d}",
		p.Number, p.Kind, len(p.Cells), p.FreeSpace())
}
