package btree

import (
	"io"
	"slices"

	"github.com/FocuswithJustin/tinysql/core/db/internal/page"
	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
)

// frame is one level of a cursor's position. On a leaf idx is the current
// cell; on an interior page it is the child being visited, where
// len(Cells) means the right-most child.
type frame struct {
	page *page.Page
	idx  int
}

// Cursor iterates a tree's records in row id order.
//
// A new cursor is unpositioned; call SeekStart or Seek first. The cursor
// caches the pages on its current path, so after the tree is modified
// through anything other than the cursor it must be repositioned or
// refreshed with Refresh.
type Cursor struct {
	tree  *BTree
	stack []frame
}

// Cursor returns an unpositioned cursor over t.
func (t *BTree) Cursor() *Cursor {
	return &Cursor{tree: t}
}

// Tree returns the tree the cursor walks.
func (c *Cursor) Tree() *BTree {
	return c.tree
}

// Valid reports whether the cursor is on a row.
func (c *Cursor) Valid() bool {
	return len(c.stack) > 0
}

// SeekStart positions the cursor on the first row, if any.
func (c *Cursor) SeekStart() error {
	c.stack = c.stack[:0]
	if err := c.descendLeft(c.tree.root); err != nil {
		c.stack = nil
		return err
	}
	return c.settle()
}

// Seek positions the cursor on the first row with row id >= rowid and
// reports whether that row's id is exactly rowid.
func (c *Cursor) Seek(rowid int64) (bool, error) {
	c.stack = c.stack[:0]
	pgno := c.tree.root
	for range MaxDepth {
		p, err := c.tree.readPage(pgno)
		if err != nil {
			c.stack = nil
			return false, err
		}
		if p.IsLeaf() {
			idx, found := p.Search(rowid)
			c.stack = append(c.stack, frame{page: p, idx: idx})
			if err := c.settle(); err != nil {
				return false, err
			}
			return found, nil
		}
		var idx int
		idx, pgno = p.ChildFor(rowid)
		c.stack = append(c.stack, frame{page: p, idx: idx})
	}
	c.stack = nil
	return false, c.tree.tooDeep()
}

// Current returns the row under the cursor.
func (c *Cursor) Current() (record.Record, bool) {
	if !c.Valid() {
		return nil, false
	}
	top := c.stack[len(c.stack)-1]
	return top.page.Cells[top.idx].Record, true
}

// RowID returns the row id under the cursor.
func (c *Cursor) RowID() (int64, bool) {
	if !c.Valid() {
		return 0, false
	}
	top := c.stack[len(c.stack)-1]
	return top.page.Cells[top.idx].RowID, true
}

// Peek returns the row ahead positions past the current one without
// moving the cursor. Peek(0) is the current row.
func (c *Cursor) Peek(ahead int) (record.Record, bool, error) {
	probe := &Cursor{tree: c.tree, stack: slices.Clone(c.stack)}
	for range ahead {
		if err := probe.Advance(); err != nil {
			if err == io.EOF {
				return nil, false, nil
			}
			return nil, false, err
		}
	}
	rec, ok := probe.Current()
	return rec, ok, nil
}

// Advance moves to the next row. It returns io.EOF if the cursor was
// already past the last row.
func (c *Cursor) Advance() error {
	if !c.Valid() {
		return io.EOF
	}
	c.stack[len(c.stack)-1].idx++
	return c.settle()
}

// Next returns the current row and moves past it, or io.EOF once every
// row has been consumed.
func (c *Cursor) Next() (record.Record, error) {
	rec, ok := c.Current()
	if !ok {
		return nil, io.EOF
	}
	if err := c.Advance(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Insert adds rec to the tree and leaves the cursor on the new row.
func (c *Cursor) Insert(rec record.Record) error {
	if err := c.tree.Insert(rec); err != nil {
		return err
	}
	rowid, err := rec.RowID()
	if err != nil {
		return err
	}
	_, err = c.Seek(rowid)
	return err
}

// Refresh rereads the cached path after the tree was modified elsewhere,
// keeping the cursor on the row it was on. An exhausted cursor stays
// exhausted.
func (c *Cursor) Refresh() error {
	rowid, ok := c.RowID()
	if !ok {
		return nil
	}
	_, err := c.Seek(rowid)
	return err
}

// Close releases the cached path.
func (c *Cursor) Close() {
	c.stack = nil
}

// descendLeft pushes the left-most path from pgno down to a leaf.
func (c *Cursor) descendLeft(pgno uint32) error {
	for range MaxDepth {
		if len(c.stack) >= MaxDepth {
			break
		}
		p, err := c.tree.readPage(pgno)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, frame{page: p})
		if p.IsLeaf() {
			return nil
		}
		pgno = p.ChildAt(0)
	}
	return c.tree.tooDeep()
}

// settle moves the cursor forward until it rests on a cell, popping
// exhausted pages and descending into the next subtree. An empty stack
// afterwards means the cursor ran off the end.
func (c *Cursor) settle() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.page.IsLeaf() {
			if top.idx < len(top.page.Cells) {
				return nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}

		top.idx++
		if top.idx > len(top.page.Cells) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		if err := c.descendLeft(top.page.ChildAt(top.idx)); err != nil {
			c.stack = nil
			return err
		}
	}
	return nil
}
