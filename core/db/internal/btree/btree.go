// Package btree implements a B-tree of records keyed by integer row id.
//
// Leaf pages hold records; interior pages hold routing cells whose key is
// the largest row id stored under their left child, plus a right-most
// child for everything greater. A tree is identified by its root page
// number, which never changes once the tree is created: when the root
// splits its contents move to new pages and the root is rewritten in place
// as an interior page.
//
// The tree keeps no state beyond (pager, root). Every operation reads the
// pages it needs from the pager and writes every modified page back before
// returning, so reopening a tree over the same file reproduces it exactly.
package btree

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/FocuswithJustin/tinysql/core/db/internal/page"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// MaxDepth bounds tree descent so a page cycle in a corrupt file fails
// instead of looping.
const MaxDepth = 64

// BTree is an ordered set of records stored under one root page.
type BTree struct {
	pager *pager.Pager
	root  uint32
}

// Create allocates a new empty leaf page and returns a tree rooted there.
func Create(p *pager.Pager) (*BTree, error) {
	pgno, err := p.Allocate()
	if err != nil {
		return nil, dberrors.Wrap(err, "btree: allocate root")
	}
	t := &BTree{pager: p, root: uint32(pgno)}
	if err := t.writePage(page.NewLeaf(t.root, p.PageSize())); err != nil {
		return nil, err
	}
	return t, nil
}

// Open returns the tree rooted at root. The root page must exist.
func Open(p *pager.Pager, root uint32) (*BTree, error) {
	if pager.Pgno(root) >= p.Len() {
		return nil, dberrors.NewNotFound("root page", fmt.Sprint(root))
	}
	return &BTree{pager: p, root: root}, nil
}

// Root returns the root page number.
func (t *BTree) Root() uint32 {
	return t.root
}

// PageSize returns the size of the tree's pages.
func (t *BTree) PageSize() int {
	return t.pager.PageSize()
}

func (t *BTree) readPage(pgno uint32) (*page.Page, error) {
	if pager.Pgno(pgno) >= t.pager.Len() {
		return nil, dberrors.NewCorrupt(t.pager.Filename(),
			fmt.Sprintf("page %d referenced but file has %d pages", pgno, t.pager.Len()))
	}
	data, err := t.pager.Read(pager.Pgno(pgno))
	if err != nil {
		return nil, err
	}
	p, err := page.Parse(data, pgno)
	if err != nil {
		return nil, dberrors.Wrapf(err, "btree: page %d", pgno)
	}
	return p, nil
}

func (t *BTree) writePage(p *page.Page) error {
	data, err := p.Bytes()
	if err != nil {
		return dberrors.Wrapf(err, "btree: encode page %d", p.Number)
	}
	return t.pager.Write(pager.Pgno(p.Number), data)
}

// allocate reserves a new page number.
func (t *BTree) allocate() (uint32, error) {
	pgno, err := t.pager.Allocate()
	if err != nil {
		return 0, dberrors.Wrap(err, "btree: allocate page")
	}
	return uint32(pgno), nil
}

// step records which child was taken at an interior page during descent.
type step struct {
	page *page.Page
	idx  int
}

// descend walks from the root to the leaf that covers rowid.
func (t *BTree) descend(rowid int64) ([]step, *page.Page, error) {
	var path []step
	pgno := t.root
	for range MaxDepth {
		p, err := t.readPage(pgno)
		if err != nil {
			return nil, nil, err
		}
		if p.IsLeaf() {
			return path, p, nil
		}
		idx, child := p.ChildFor(rowid)
		path = append(path, step{page: p, idx: idx})
		pgno = child
	}
	return nil, nil, t.tooDeep()
}

func (t *BTree) tooDeep() error {
	return dberrors.NewCorrupt(t.pager.Filename(),
		fmt.Sprintf("tree rooted at page %d is deeper than %d levels", t.root, MaxDepth))
}

// Find returns the record stored under rowid.
func (t *BTree) Find(rowid int64) (record.Record, bool, error) {
	_, leaf, err := t.descend(rowid)
	if err != nil {
		return nil, false, err
	}
	idx, found := leaf.Search(rowid)
	if !found {
		return nil, false, nil
	}
	return leaf.Cells[idx].Record, true, nil
}

// Insert adds rec under its row id (the first column). A row id that is
// already present fails with ErrDuplicateKey and leaves the tree as it was.
func (t *BTree) Insert(rec record.Record) error {
	cell, err := page.NewLeafCell(rec)
	if err != nil {
		return err
	}
	if !page.NewLeaf(0, t.PageSize()).Fits(cell) {
		return fmt.Errorf("%w: row %d needs %d bytes, page size is %d",
			dberrors.ErrRecordTooLarge, cell.RowID, cell.Size(page.KindLeaf), t.PageSize())
	}

	path, leaf, err := t.descend(cell.RowID)
	if err != nil {
		return err
	}

	err = leaf.AddCell(cell)
	switch {
	case err == nil:
		return t.writePage(leaf)
	case !errors.Is(err, dberrors.ErrPageFull):
		return err
	}

	idx, _ := leaf.Search(cell.RowID)
	cells := slices.Insert(slices.Clone(leaf.Cells), idx, cell)
	parts, seps := splitLeaf(cells, t.PageSize())
	return t.replace(leaf, parts, seps, path)
}

// splitLeaf divides sorted cells across as few leaves as possible. The
// common case is an even split by count; when record sizes are uneven
// enough that a half does not fit, cells are packed greedily instead.
// seps[i] is the largest row id in parts[i].
func splitLeaf(cells []page.Cell, size int) (parts [][]page.Cell, seps []int64) {
	mid := len(cells) / 2
	if fitsLeaf(cells[:mid], size) && fitsLeaf(cells[mid:], size) {
		parts = [][]page.Cell{cells[:mid], cells[mid:]}
	} else {
		start := 0
		for i := 1; i <= len(cells); i++ {
			if i == len(cells) || !fitsLeaf(cells[start:i+1], size) {
				parts = append(parts, cells[start:i])
				start = i
			}
		}
	}
	for _, part := range parts[:len(parts)-1] {
		seps = append(seps, part[len(part)-1].RowID)
	}
	return parts, seps
}

func fitsLeaf(cells []page.Cell, size int) bool {
	p := &page.Page{Kind: page.KindLeaf, Cells: cells, Size: size}
	return p.FreeSpace() >= 0
}

// replace stores the contents of an overflowing page as a run of sibling
// pages and links them into the parent. Leaf contents arrive as cell
// groups; interior contents arrive pre-split by splitInterior.
func (t *BTree) replace(orig *page.Page, parts [][]page.Cell, seps []int64, path []step) error {
	siblings, err := t.buildSiblings(orig, parts, path)
	if err != nil {
		return err
	}
	return t.link(orig, siblings, seps, path)
}

// buildSiblings turns leaf cell groups into pages. The first group keeps
// the original page number unless the original is the root.
func (t *BTree) buildSiblings(orig *page.Page, parts [][]page.Cell, path []step) ([]*page.Page, error) {
	siblings := make([]*page.Page, len(parts))
	for i, cells := range parts {
		pgno := orig.Number
		if i > 0 || len(path) == 0 {
			var err error
			if pgno, err = t.allocate(); err != nil {
				return nil, err
			}
		}
		siblings[i] = page.NewLeaf(pgno, t.PageSize())
		siblings[i].Cells = cells
	}
	return siblings, nil
}

// link writes siblings and records them in the parent. seps[i] separates
// siblings[i] from siblings[i+1]. A split root is rewritten in place as an
// interior page over the siblings.
func (t *BTree) link(orig *page.Page, siblings []*page.Page, seps []int64, path []step) error {
	for _, s := range siblings {
		if err := t.writePage(s); err != nil {
			return err
		}
	}

	last := siblings[len(siblings)-1].Number
	if len(path) == 0 {
		root := page.NewInterior(orig.Number, t.PageSize(), last)
		for i, sep := range seps {
			root.Cells = append(root.Cells, page.NewInteriorCell(sep, siblings[i].Number))
		}
		return t.writePage(root)
	}

	parent := path[len(path)-1]
	pp := parent.page
	pp.SetChildAt(parent.idx, last)
	added := make([]page.Cell, len(seps))
	for i, sep := range seps {
		added[i] = page.NewInteriorCell(sep, siblings[i].Number)
	}
	pp.Cells = slices.Insert(pp.Cells, parent.idx, added...)
	if pp.FreeSpace() >= 0 {
		return t.writePage(pp)
	}
	return t.splitInterior(pp, path[:len(path)-1])
}

// splitInterior splits an overflowing interior page around its median
// cell. The median's key moves up to the parent and its child becomes the
// right-most child of the lower page.
func (t *BTree) splitInterior(p *page.Page, path []step) error {
	mid := len(p.Cells) / 2
	median := p.Cells[mid]

	lowerNo := p.Number
	var err error
	if len(path) == 0 {
		if lowerNo, err = t.allocate(); err != nil {
			return err
		}
	}
	upperNo, err := t.allocate()
	if err != nil {
		return err
	}

	lower := page.NewInterior(lowerNo, t.PageSize(), median.Child)
	lower.Cells = slices.Clone(p.Cells[:mid])
	upper := page.NewInterior(upperNo, t.PageSize(), p.RightChild)
	upper.Cells = slices.Clone(p.Cells[mid+1:])

	return t.link(p, []*page.Page{lower, upper}, []int64{median.RowID}, path)
}

// Scan returns every record in ascending row id order. Each call walks the
// tree afresh from the pager.
func (t *BTree) Scan() iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		if err := t.walk(t.root, 0, yield); err != nil && !errors.Is(err, errStop) {
			yield(nil, err)
		}
	}
}

// errStop ends a walk early when the consumer stops iterating.
var errStop = errors.New("stop")

func (t *BTree) walk(pgno uint32, depth int, yield func(record.Record, error) bool) error {
	if depth >= MaxDepth {
		return t.tooDeep()
	}
	p, err := t.readPage(pgno)
	if err != nil {
		return err
	}
	if p.IsLeaf() {
		for _, c := range p.Cells {
			if !yield(c.Record, nil) {
				return errStop
			}
		}
		return nil
	}
	for i := 0; i <= len(p.Cells); i++ {
		if err := t.walk(p.ChildAt(i), depth+1, yield); err != nil {
			return err
		}
	}
	return nil
}

// Records collects Scan into a slice.
func (t *BTree) Records() ([]record.Record, error) {
	var out []record.Record
	for rec, err := range t.Scan() {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// NewRowID returns one more than the largest row id in the tree, or 1 when
// the tree is empty.
func (t *BTree) NewRowID() (int64, error) {
	pgno := t.root
	for range MaxDepth {
		p, err := t.readPage(pgno)
		if err != nil {
			return 0, err
		}
		if !p.IsLeaf() {
			pgno = p.RightChild
			continue
		}
		if len(p.Cells) == 0 {
			return 1, nil
		}
		last := p.Cells[len(p.Cells)-1].RowID
		if last == math.MaxInt64 {
			return 0, fmt.Errorf("%w: row id space exhausted", dberrors.ErrInvalidInput)
		}
		return last + 1, nil
	}
	return 0, t.tooDeep()
}

// Check walks the whole tree and verifies that every page is reachable
// once, keys are sorted and every key lies within the bounds implied by
// its ancestors.
func (t *BTree) Check() error {
	seen := make(map[uint32]bool)
	return t.check(t.root, math.MinInt64, math.MaxInt64, true, 0, seen)
}

// check verifies the subtree at pgno holds keys in (lo, hi]; loOpen is set
// when lo itself is allowed (the left edge of the tree).
func (t *BTree) check(pgno uint32, lo, hi int64, loOpen bool, depth int, seen map[uint32]bool) error {
	if depth >= MaxDepth {
		return t.tooDeep()
	}
	if seen[pgno] {
		return dberrors.NewCorrupt(t.pager.Filename(), fmt.Sprintf("page %d linked twice", pgno))
	}
	seen[pgno] = true

	p, err := t.readPage(pgno)
	if err != nil {
		return err
	}
	for _, c := range p.Cells {
		if c.RowID > hi || c.RowID < lo || (c.RowID == lo && !loOpen) {
			return dberrors.NewCorrupt(t.pager.Filename(),
				fmt.Sprintf("page %d: row id %d outside (%d, %d]", pgno, c.RowID, lo, hi))
		}
	}
	if p.IsLeaf() {
		return nil
	}

	left, open := lo, loOpen
	for _, c := range p.Cells {
		if err := t.check(c.Child, left, c.RowID, open, depth+1, seen); err != nil {
			return err
		}
		left, open = c.RowID, false
	}
	return t.check(p.RightChild, left, hi, open, depth+1, seen)
}

// Depth returns the number of levels from the root to the leaves.
func (t *BTree) Depth() (int, error) {
	pgno := t.root
	for depth := 1; depth <= MaxDepth; depth++ {
		p, err := t.readPage(pgno)
		if err != nil {
			return 0, err
		}
		if p.IsLeaf() {
			return depth, nil
		}
		pgno = p.ChildAt(0)
	}
	return 0, t.tooDeep()
}
