// Package compiler translates parsed statements into VM programs.
//
// Each call to Compile reads the schema table from the file, so a program
// always reflects the tables that exist when it is compiled. Compilation
// has no side effects on the file; every write happens when the program
// runs.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	"github.com/FocuswithJustin/tinysql/core/db/internal/parser"
	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	"github.com/FocuswithJustin/tinysql/core/db/internal/schema"
	"github.com/FocuswithJustin/tinysql/core/db/internal/vdbe"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// ExplainColumns are the result columns of an EXPLAIN program.
var ExplainColumns = []string{"addr", "opcode", "p1", "p2", "p3", "p4", "p5", "comment"}

// Compile compiles stmt against the schema stored in p.
func Compile(p *pager.Pager, stmt parser.Statement) (*vdbe.Program, error) {
	s, err := schema.Load(p)
	if err != nil {
		return nil, err
	}
	return CompileWithSchema(s, stmt)
}

// CompileWithSchema compiles stmt against an already loaded schema.
func CompileWithSchema(s *schema.Schema, stmt parser.Statement) (*vdbe.Program, error) {
	switch st := stmt.(type) {
	case *parser.CreateTable:
		return newBuilder(s).createTable(st)
	case *parser.Insert:
		return newBuilder(s).insert(st)
	case *parser.Select:
		return newBuilder(s).selectRows(st)
	case *parser.Explain:
		inner, err := CompileWithSchema(s, st.Stmt)
		if err != nil {
			return nil, err
		}
		return explain(inner)
	default:
		return nil, dberrors.NewUnsupported("statement", fmt.Sprintf("%T", stmt))
	}
}

// builder holds the state of one compilation.
type builder struct {
	*vdbe.Builder
	schema *schema.Schema
}

func newBuilder(s *schema.Schema) *builder {
	return &builder{Builder: vdbe.NewBuilder(), schema: s}
}

func (b *builder) table(name string) (*schema.Table, error) {
	t, ok := b.schema.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: no such table: %s", dberrors.ErrInvalidInput, name)
	}
	return t, nil
}

// prologue emits the Init and Transaction pair every program starts with.
func (b *builder) prologue() {
	start := b.NewLabel()
	b.AddJump(vdbe.OpInit, 0, start, 0)
	b.Resolve(start)
	b.Add(vdbe.OpTransaction, 0, 0, 0)
}

// loadValue emits the instruction that puts v in reg.
func (b *builder) loadValue(v record.Value, reg int) int {
	switch v.Kind {
	case record.KindInteger:
		return b.Add(vdbe.OpInteger, int(v.Int), reg, 0)
	case record.KindText:
		return b.AddP4(vdbe.OpString, 0, reg, 0, v.Text)
	}
	return b.Add(vdbe.OpNull, 0, reg, 0)
}

func (b *builder) createTable(st *parser.CreateTable) (*vdbe.Program, error) {
	if _, exists := b.schema.Table(st.Name); exists {
		if st.IfNotExists {
			b.prologue()
			b.Add(vdbe.OpHalt, 0, 0, 0)
			return b.Build()
		}
		return nil, fmt.Errorf("%w: table %s already exists", dberrors.ErrInvalidInput, st.Name)
	}

	cur := b.Cursor()
	root := b.Registers(1)
	row := b.Registers(schema.NumColumns)
	rec := b.Registers(1)

	b.prologue()
	addr := b.Add(vdbe.OpCreateTable, root, 0, 0)
	b.Comment(addr, "root page of %s", st.Name)
	addr = b.Add(vdbe.OpOpenWrite, cur, schema.RootPage, schema.NumColumns)
	b.Comment(addr, "schema")
	b.Add(vdbe.OpNewRowid, cur, row+schema.ColID, 0)
	b.AddP4(vdbe.OpString, 0, row+schema.ColType, 0, schema.TypeTable)
	b.AddP4(vdbe.OpString, 0, row+schema.ColName, 0, st.Name)
	b.AddP4(vdbe.OpString, 0, row+schema.ColTblName, 0, st.Name)
	b.Add(vdbe.OpSCopy, root, row+schema.ColRootPage, 0)
	b.AddP4(vdbe.OpString, 0, row+schema.ColSQL, 0, st.Text)
	b.Add(vdbe.OpMakeRecord, row, schema.NumColumns, rec)
	addr = b.Add(vdbe.OpInsert, cur, rec, row+schema.ColID)
	b.SetP5(addr, vdbe.InsertNoChange)
	b.Add(vdbe.OpClose, cur, 0, 0)
	b.Add(vdbe.OpHalt, 0, 0, 0)
	return b.Build()
}

func (b *builder) insert(st *parser.Insert) (*vdbe.Program, error) {
	t, err := b.table(st.Table)
	if err != nil {
		return nil, err
	}
	positions, err := insertPositions(t, st.Columns)
	if err != nil {
		return nil, err
	}

	n := len(t.Columns)
	cur := b.Cursor()
	cols := b.Registers(n)
	key := b.Registers(1)
	rec := b.Registers(1)

	b.prologue()
	addr := b.Add(vdbe.OpOpenWrite, cur, int(t.RootPage), n)
	b.Comment(addr, "%s", t.Name)

	for i, vals := range st.Rows {
		if len(vals) != len(positions) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", dberrors.ErrInvalidInput, i+1, len(vals), len(positions))
		}
		row := make([]record.Value, n)
		for j, pos := range positions {
			row[pos] = applyAffinity(vals[j], t.Columns[pos].Affinity)
		}

		for c := 1; c < n; c++ {
			if t.Columns[c].NotNull && row[c].IsNull() {
				return nil, fmt.Errorf("%w: NOT NULL constraint failed: %s.%s", dberrors.ErrInvalidInput, t.Name, t.Columns[c].Name)
			}
			b.loadValue(row[c], cols+c)
		}

		switch id := row[0]; id.Kind {
		case record.KindNull:
			b.Add(vdbe.OpNewRowid, cur, key, 0)
			b.Add(vdbe.OpNull, 0, cols, 0)
		case record.KindInteger:
			b.loadValue(id, key)
			b.Add(vdbe.OpSCopy, key, cols, 0)
		default:
			return nil, fmt.Errorf("%w: row id %s is not an integer", dberrors.ErrInvalidInput, id)
		}

		b.Add(vdbe.OpMakeRecord, cols, n, rec)
		b.Add(vdbe.OpInsert, cur, rec, key)
	}

	b.Add(vdbe.OpClose, cur, 0, 0)
	b.Add(vdbe.OpHalt, 0, 0, 0)
	return b.Build()
}

// insertPositions maps each value of an INSERT row to a table column.
func insertPositions(t *schema.Table, names []string) ([]int, error) {
	if names == nil {
		positions := make([]int, len(t.Columns))
		for i := range positions {
			positions[i] = i
		}
		return positions, nil
	}

	positions := make([]int, len(names))
	used := make(map[int]bool, len(names))
	for i, name := range names {
		pos := t.ColumnIndex(name)
		if pos < 0 {
			return nil, fmt.Errorf("%w: table %s has no column named %s", dberrors.ErrInvalidInput, t.Name, name)
		}
		if used[pos] {
			return nil, fmt.Errorf("%w: column %s listed twice", dberrors.ErrInvalidInput, name)
		}
		used[pos] = true
		positions[i] = pos
	}
	return positions, nil
}

// applyAffinity converts a literal to a column's storage class when the
// conversion is lossless. Anything else is stored as given.
func applyAffinity(v record.Value, aff parser.Affinity) record.Value {
	switch {
	case aff == parser.AffinityInteger && v.Kind == record.KindText:
		s := strings.TrimSpace(v.Text)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
			return record.Integer(n)
		}
	case aff == parser.AffinityText && v.Kind == record.KindInteger:
		return record.Text(strconv.FormatInt(v.Int, 10))
	}
	return v
}

func (b *builder) selectRows(st *parser.Select) (*vdbe.Program, error) {
	t, err := b.table(st.Table)
	if err != nil {
		return nil, err
	}

	var (
		outCols []int
		names   []string
	)
	if st.Columns == nil {
		for i, c := range t.Columns {
			outCols = append(outCols, i)
			names = append(names, c.Name)
		}
	} else {
		for _, name := range st.Columns {
			pos := t.ColumnIndex(name)
			if pos < 0 {
				return nil, fmt.Errorf("%w: no such column: %s", dberrors.ErrInvalidInput, name)
			}
			outCols = append(outCols, pos)
			names = append(names, t.Columns[pos].Name)
		}
	}

	where := -1
	var want record.Value
	if st.Where != nil {
		where = t.ColumnIndex(st.Where.Column)
		if where < 0 {
			return nil, fmt.Errorf("%w: no such column: %s", dberrors.ErrInvalidInput, st.Where.Column)
		}
		want = applyAffinity(st.Where.Value, t.Columns[where].Affinity)
	}

	cur := b.Cursor()
	out := b.Registers(len(outCols))
	done := b.NewLabel()

	b.prologue()
	addr := b.Add(vdbe.OpOpenRead, cur, int(t.RootPage), len(t.Columns))
	b.Comment(addr, "%s", t.Name)

	if where == 0 {
		// Equality on the row id: one seek instead of a scan.
		key := b.Registers(1)
		b.loadValue(want, key)
		b.AddJump(vdbe.OpSeekRowid, cur, done, key)
		b.emitColumns(cur, outCols, out)
		b.Add(vdbe.OpResultRow, out, len(outCols), 0)
	} else {
		loop, skip := b.NewLabel(), b.NewLabel()
		var lit, tmp int
		if where > 0 {
			lit = b.Registers(1)
			tmp = b.Registers(1)
			b.loadValue(want, lit)
		}
		b.AddJump(vdbe.OpRewind, cur, done, 0)
		b.Resolve(loop)
		if where > 0 {
			b.Add(vdbe.OpColumn, cur, where, tmp)
			b.AddJump(vdbe.OpNe, tmp, skip, lit)
		}
		b.emitColumns(cur, outCols, out)
		b.Add(vdbe.OpResultRow, out, len(outCols), 0)
		b.Resolve(skip)
		b.AddJump(vdbe.OpNext, cur, loop, 0)
	}

	b.Resolve(done)
	b.Add(vdbe.OpClose, cur, 0, 0)
	b.Add(vdbe.OpHalt, 0, 0, 0)
	b.SetColumns(names...)
	return b.Build()
}

// emitColumns loads the selected columns of the current row. The first
// table column is the row id and is read from the key.
func (b *builder) emitColumns(cur int, cols []int, out int) {
	for i, c := range cols {
		if c == 0 {
			b.Add(vdbe.OpRowid, cur, out+i, 0)
			continue
		}
		b.Add(vdbe.OpColumn, cur, c, out+i)
	}
}

// explain returns a program whose rows list the instructions of inner.
func explain(inner *vdbe.Program) (*vdbe.Program, error) {
	b := vdbe.NewBuilder()
	regs := b.Registers(len(ExplainColumns))
	for addr, ins := range inner.Instructions {
		b.Add(vdbe.OpInteger, addr, regs, 0)
		b.AddP4(vdbe.OpString, 0, regs+1, 0, ins.Opcode.String())
		b.Add(vdbe.OpInteger, ins.P1, regs+2, 0)
		b.Add(vdbe.OpInteger, ins.P2, regs+3, 0)
		b.Add(vdbe.OpInteger, ins.P3, regs+4, 0)
		b.AddP4(vdbe.OpString, 0, regs+5, 0, ins.P4)
		b.Add(vdbe.OpInteger, int(ins.P5), regs+6, 0)
		b.AddP4(vdbe.OpString, 0, regs+7, 0, ins.Comment)
		b.Add(vdbe.OpResultRow, regs, len(ExplainColumns), 0)
	}
	b.Add(vdbe.OpHalt, 0, 0, 0)
	b.SetColumns(ExplainColumns...)
	return b.Build()
}
