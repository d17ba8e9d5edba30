package vdbe

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FocuswithJustin/tinysql/core/db/internal/btree"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

func newPager(t *testing.T) *pager.Pager {
	t.Helper()
	p, err := pager.OpenWithOptions(filepath.Join(t.TempDir(), "vm.db"), pager.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("OpenWithOptions() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func newTable(t *testing.T, p *pager.Pager, n int) *btree.BTree {
	t.Helper()
	tree, err := btree.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		rec := record.Record{record.Integer(int64(i)), record.Text(fmt.Sprintf("name%d", i))}
		if err := tree.Insert(rec); err != nil {
			t.Fatal(err)
		}
	}
	return tree
}

func build(t *testing.T, b *Builder) *Program {
	t.Helper()
	prog, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return prog
}

// scanProgram emits: for each row of root, ResultRow(rowid, col1).
func scanProgram(t *testing.T, root uint32) *Program {
	b := NewBuilder()
	cur := b.Cursor()
	regs := b.Registers(2)
	start, loop, done := b.NewLabel(), b.NewLabel(), b.NewLabel()

	b.AddJump(OpInit, 0, start, 0)
	b.Resolve(start)
	b.Add(OpTransaction, 0, 0, 0)
	b.Add(OpOpenRead, cur, int(root), 2)
	b.AddJump(OpRewind, cur, done, 0)
	b.Resolve(loop)
	b.Add(OpRowid, cur, regs, 0)
	b.Add(OpColumn, cur, 1, regs+1)
	b.Add(OpResultRow, regs, 2, 0)
	b.AddJump(OpNext, cur, loop, 0)
	b.Resolve(done)
	b.Add(OpClose, cur, 0, 0)
	b.Add(OpHalt, 0, 0, 0)
	b.SetColumns("id", "name")
	return build(t, b)
}

func TestScanProgram(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 60)

	vm := New(scanProgram(t, tree.Root()), p)
	n := 0
	for row, err := range vm.Rows() {
		if err != nil {
			t.Fatalf("Rows() error = %v", err)
		}
		n++
		if row[0].Int != int64(n) || row[1].Text != fmt.Sprintf("name%d", n) {
			t.Fatalf("row %d = %v", n, row)
		}
	}
	if n != 60 {
		t.Errorf("got %d rows, want 60", n)
	}
	if vm.State() != StateHalt {
		t.Errorf("State() = %d, want StateHalt", vm.State())
	}
	if _, err := vm.Step(); err != io.EOF {
		t.Errorf("Step() after halt = %v, want io.EOF", err)
	}
}

func TestScanEmptyTable(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 0)

	vm := New(scanProgram(t, tree.Root()), p)
	if _, err := vm.Step(); err != io.EOF {
		t.Errorf("Step() = %v, want io.EOF", err)
	}
}

func TestStepIsLazy(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 3)

	vm := New(scanProgram(t, tree.Root()), p)
	row, err := vm.Step()
	if err != nil || row[0].Int != 1 {
		t.Fatalf("Step() = (%v, %v)", row, err)
	}
	stepsAfterFirst := vm.Steps()

	row, err = vm.Step()
	if err != nil || row[0].Int != 2 {
		t.Fatalf("Step() = (%v, %v)", row, err)
	}
	if vm.Steps() <= stepsAfterFirst {
		t.Errorf("second Step() executed no instructions")
	}
}

func TestInsertProgram(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 5)

	// INSERT (NULL, 'auto'), (42, 'explicit')
	b := NewBuilder()
	cur := b.Cursor()
	id, name, rec, key := b.Registers(1), b.Registers(1), b.Registers(1), b.Registers(1)
	b.Add(OpOpenWrite, cur, int(tree.Root()), 2)

	b.Add(OpNull, 0, id, 0)
	b.AddP4(OpString, 0, name, 0, "auto")
	b.Add(OpMakeRecord, id, 2, rec)
	b.Add(OpNewRowid, cur, key, 0)
	b.Add(OpInsert, cur, rec, key)

	b.Add(OpInteger, 42, id, 0)
	b.AddP4(OpString, 0, name, 0, "explicit")
	b.Add(OpMakeRecord, id, 2, rec)
	b.Add(OpInsert, cur, rec, id)
	b.Add(OpHalt, 0, 0, 0)

	vm := New(build(t, b), p)
	if err := vm.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if vm.Changes() != 2 || vm.LastInsertID() != 42 {
		t.Errorf("Changes() = %d, LastInsertID() = %d", vm.Changes(), vm.LastInsertID())
	}

	got, found, err := tree.Find(6)
	if err != nil || !found || got[1].Text != "auto" || got[0].Int != 6 {
		t.Errorf("Find(6) = (%v, %v, %v)", got, found, err)
	}
	got, found, err = tree.Find(42)
	if err != nil || !found || got[1].Text != "explicit" {
		t.Errorf("Find(42) = (%v, %v, %v)", got, found, err)
	}
}

func TestSeekRowid(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 40)

	for _, tt := range []struct {
		key  int
		want int
	}{{17, 1}, {99, 0}} {
		b := NewBuilder()
		cur := b.Cursor()
		key, out := b.Registers(1), b.Registers(1)
		miss := b.NewLabel()
		b.Add(OpOpenRead, cur, int(tree.Root()), 2)
		b.Add(OpInteger, tt.key, key, 0)
		b.AddJump(OpSeekRowid, cur, miss, key)
		b.Add(OpColumn, cur, 1, out)
		b.Add(OpResultRow, out, 1, 0)
		b.Resolve(miss)
		b.Add(OpHalt, 0, 0, 0)

		var rows []Row
		for row, err := range New(build(t, b), p).Rows() {
			if err != nil {
				t.Fatal(err)
			}
			rows = append(rows, row)
		}
		if len(rows) != tt.want {
			t.Errorf("SeekRowid(%d) returned %d rows, want %d", tt.key, len(rows), tt.want)
		}
		if tt.want == 1 && rows[0][0].Text != "name17" {
			t.Errorf("SeekRowid(%d) row = %v", tt.key, rows[0])
		}
	}
}

func TestNeFiltersScan(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 10)

	b := NewBuilder()
	cur := b.Cursor()
	regs := b.Registers(3)
	loop, skip, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.AddP4(OpString, 0, regs+2, 0, "name7")
	b.Add(OpOpenRead, cur, int(tree.Root()), 2)
	b.AddJump(OpRewind, cur, done, 0)
	b.Resolve(loop)
	b.Add(OpColumn, cur, 1, regs+1)
	b.AddJump(OpNe, regs+1, skip, regs+2)
	b.Add(OpRowid, cur, regs, 0)
	b.Add(OpResultRow, regs, 2, 0)
	b.Resolve(skip)
	b.AddJump(OpNext, cur, loop, 0)
	b.Resolve(done)
	b.Add(OpHalt, 0, 0, 0)

	vm := New(build(t, b), p)
	var ids []int64
	for row, err := range vm.Rows() {
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, row[0].Int)
	}
	if len(ids) != 1 || ids[0] != 7 {
		t.Errorf("filtered ids = %v, want [7]", ids)
	}
}

func TestNeNullNeverMatches(t *testing.T) {
	p := newPager(t)
	b := NewBuilder()
	regs := b.Registers(2)
	out, miss := b.NewLabel(), b.NewLabel()
	b.Add(OpNull, 0, regs, regs+1)
	b.AddJump(OpNe, regs, miss, regs+1)
	b.Add(OpInteger, 1, regs, 0)
	b.AddJump(OpGoto, 0, out, 0)
	b.Resolve(miss)
	b.Add(OpInteger, 0, regs, 0)
	b.Resolve(out)
	b.Add(OpResultRow, regs, 1, 0)
	b.Add(OpHalt, 0, 0, 0)

	row, err := New(build(t, b), p).Step()
	if err != nil {
		t.Fatal(err)
	}
	if row[0].Int != 0 {
		t.Errorf("NULL = NULL matched")
	}
}

func TestCreateTable(t *testing.T) {
	p := newPager(t)
	newTable(t, p, 0)

	b := NewBuilder()
	r := b.Registers(1)
	b.Add(OpCreateTable, r, 0, 0)
	b.Add(OpResultRow, r, 1, 0)
	vm := New(build(t, b), p)

	row, err := vm.Step()
	if err != nil {
		t.Fatal(err)
	}
	root := row[0].Int
	if root != 1 {
		t.Errorf("CreateTable root = %d, want 1", root)
	}
	if _, err := btree.Open(p, uint32(root)); err != nil {
		t.Errorf("btree.Open(%d) error = %v", root, err)
	}
}

func TestProgramErrors(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 3)
	root := int(tree.Root())

	tests := []struct {
		name  string
		build func(b *Builder)
		want  error
	}{
		{"unset register", func(b *Builder) {
			b.Add(OpResultRow, 5, 1, 0)
		}, ErrUnsetRegister},
		{"closed cursor", func(b *Builder) {
			b.Add(OpRewind, 3, 0, 0)
		}, ErrNoCursor},
		{"record as value", func(b *Builder) {
			b.Add(OpInteger, 1, 0, 0)
			b.Add(OpMakeRecord, 0, 1, 1)
			b.Add(OpResultRow, 1, 1, 0)
		}, ErrBadRegister},
		{"insert through read cursor", func(b *Builder) {
			b.Add(OpOpenRead, 0, root, 1)
			b.Add(OpInteger, 9, 0, 0)
			b.Add(OpMakeRecord, 0, 1, 1)
			b.Add(OpInsert, 0, 1, 0)
		}, ErrReadCursor},
		{"column without row", func(b *Builder) {
			b.Add(OpOpenRead, 0, root, 1)
			b.Add(OpColumn, 0, 0, 0)
		}, ErrNoRow},
		{"row id mismatch", func(b *Builder) {
			b.Add(OpOpenWrite, 0, root, 1)
			b.Add(OpInteger, 9, 0, 0)
			b.Add(OpInteger, 10, 1, 0)
			b.Add(OpMakeRecord, 0, 1, 2)
			b.Add(OpInsert, 0, 2, 1)
		}, ErrRowIDMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.build(b)
			vm := New(build(t, b), p)
			_, err := vm.Step()
			if !errors.Is(err, tt.want) {
				t.Errorf("Step() error = %v, want %v", err, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "vdbe: pc=") {
				t.Errorf("error %q lacks pc prefix", err)
			}
			if _, again := vm.Step(); again != err {
				t.Errorf("second Step() error = %v, want same error", again)
			}
		})
	}
}

func TestDuplicateInsertFails(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 3)

	b := NewBuilder()
	b.Add(OpOpenWrite, 0, int(tree.Root()), 1)
	b.Add(OpInteger, 2, 0, 0)
	b.Add(OpMakeRecord, 0, 1, 1)
	b.Add(OpInsert, 0, 1, 0)
	vm := New(build(t, b), p)

	if err := vm.Run(); !errors.Is(err, dberrors.ErrDuplicateKey) {
		t.Errorf("Run() error = %v, want duplicate key", err)
	}
}

func TestBuilder(t *testing.T) {
	b := NewBuilder()
	l := b.NewLabel()
	b.AddJump(OpGoto, 0, l, 0)
	if _, err := b.Build(); err == nil {
		t.Error("Build() with unresolved label succeeded")
	}

	b = NewBuilder()
	end := b.NewLabel()
	b.AddJump(OpGoto, 0, end, 0)
	addr := b.Add(OpNoop, 0, 0, 0)
	b.Comment(addr, "skipped %d", 1)
	b.Resolve(end)
	b.Add(OpHalt, 0, 0, 0)
	prog := build(t, b)
	if prog.Instructions[0].P2 != 2 {
		t.Errorf("Goto target = %d, want 2", prog.Instructions[0].P2)
	}
	if _, err := b.Build(); err == nil {
		t.Error("second Build() succeeded")
	}

	if regs := NewBuilder().Registers(3); regs != 0 {
		t.Errorf("Registers() = %d, want 0", regs)
	}
}

func TestValidate(t *testing.T) {
	bad := &Program{Instructions: []Instruction{{Opcode: OpGoto, P2: 7}}}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted out-of-range jump")
	}
	bad = &Program{Instructions: []Instruction{{Opcode: Opcode(200)}}}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted unknown opcode")
	}
}

func TestExplain(t *testing.T) {
	out := scanProgram(t, 3).Explain()
	for _, want := range []string{"addr", "Init", "OpenRead", "ResultRow", "Halt"} {
		if !strings.Contains(out, want) {
			t.Errorf("Explain() missing %q:\n%s", want, out)
		}
	}
	if got := (&Program{}).Explain(); got != "Empty program" {
		t.Errorf("Explain() of empty program = %q", got)
	}
}

func TestOpcodeString(t *testing.T) {
	if OpResultRow.String() != "ResultRow" {
		t.Errorf("OpResultRow.String() = %q", OpResultRow.String())
	}
	if got := Opcode(250).String(); got != "Opcode(250)" {
		t.Errorf("Opcode(250).String() = %q", got)
	}
	for op := Opcode(0); op < numOpcodes; op++ {
		if opcodeNames[op] == "" {
			t.Errorf("opcode %d has no name", op)
		}
	}
}

func ExampleProgram_Explain() {
	b := NewBuilder()
	r := b.Registers(1)
	b.Add(OpInteger, 7, r, 0)
	b.Add(OpResultRow, r, 1, 0)
	b.Add(OpHalt, 0, 0, 0)
	prog, _ := b.Build()
	fmt.Print(prog.Explain())
	// Output:
	// addr  opcode         p1    p2    p3    p4             p5  comment
	// ----  -------------  ----  ----  ----  -------------  --  -------
	// 0     Integer        7     0     0                    0
	// 1     ResultRow      0     1     0                    0
	// 2     Halt           0     0     0                    0
}

func TestProgramWrites(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 1)
	if scanProgram(t, tree.Root()).Writes() {
		t.Error("scan program reports a write")
	}

	b := NewBuilder()
	b.Add(OpCreateTable, b.Registers(1), 0, 0)
	if !build(t, b).Writes() {
		t.Error("CreateTable program reports no write")
	}
	b = NewBuilder()
	b.Add(OpOpenWrite, b.Cursor(), int(tree.Root()), 2)
	if !build(t, b).Writes() {
		t.Error("OpenWrite program reports no write")
	}
}

func TestRefreshAfterOutsideInsert(t *testing.T) {
	p := newPager(t)
	tree := newTable(t, p, 5)

	vm := New(scanProgram(t, tree.Root()), p)
	defer vm.Close()
	row, err := vm.Step()
	if err != nil || row[0].Int != 1 {
		t.Fatalf("Step() = (%v, %v)", row, err)
	}

	// Splits the leaf the cursor holds.
	for i := 6; i <= 80; i++ {
		if err := tree.Insert(record.Record{record.Integer(int64(i)), record.Text(fmt.Sprintf("name%d", i))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := vm.Refresh(); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	want := int64(2)
	for row, err := range vm.Rows() {
		if err != nil {
			t.Fatal(err)
		}
		if row[0].Int != want {
			t.Fatalf("row id = %d, want %d", row[0].Int, want)
		}
		want++
	}
	if want != 81 {
		t.Errorf("scan ended before id %d, want 81", want)
	}
}
