// Package vdbe implements the register-based virtual machine that runs
// compiled query programs against B-tree storage.
//
// A VM executes one Program. Step runs instructions until the program
// produces a result row or halts; execution resumes where it stopped on
// the next call, so rows are produced lazily and only once.
package vdbe

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/FocuswithJustin/tinysql/core/db/internal/btree"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Errors reported for defective programs.
var (
	ErrUnsetRegister = fmt.Errorf("%w: read of unset register", dberrors.ErrInvalidInput)
	ErrBadRegister   = fmt.Errorf("%w: register holds the wrong kind of value", dberrors.ErrInvalidInput)
	ErrNoCursor      = fmt.Errorf("%w: cursor is not open", dberrors.ErrInvalidInput)
	ErrNoRow         = fmt.Errorf("%w: cursor is not on a row", dberrors.ErrInvalidInput)
	ErrReadCursor    = fmt.Errorf("%w: write through a read-only cursor", dberrors.ErrInvalidInput)
	ErrRowIDMismatch = fmt.Errorf("%w: record row id does not match insert key", dberrors.ErrInvalidInput)
)

// State is the execution state of a VM.
type State uint8

const (
	StateReady State = iota // Not yet started
	StateRun                // Between instructions or suspended on a row
	StateHalt               // Finished, successfully or not
)

// Row is one result row.
type Row []record.Value

// cursor is an open VM cursor.
type cursor struct {
	bt       *btree.Cursor
	writable bool
}

// VM executes a Program.
type VM struct {
	prog    *Program
	pager   *pager.Pager
	pc      int
	state   State
	regs    registers
	cursors []*cursor
	err     error

	changes      int64
	lastInsertID int64
	steps        int64
}

// New returns a VM ready to run prog against the file behind p.
func New(prog *Program, p *pager.Pager) *VM {
	return &VM{
		prog:    prog,
		pager:   p,
		regs:    make(registers, prog.NumRegisters),
		cursors: make([]*cursor, prog.NumCursors),
	}
}

// Program returns the program being executed.
func (v *VM) Program() *Program {
	return v.prog
}

// State returns the current execution state.
func (v *VM) State() State {
	return v.state
}

// Changes returns the number of rows inserted so far.
func (v *VM) Changes() int64 {
	return v.changes
}

// LastInsertID returns the row id of the most recent insert.
func (v *VM) LastInsertID() int64 {
	return v.lastInsertID
}

// Steps returns the number of instructions executed.
func (v *VM) Steps() int64 {
	return v.steps
}

// Step runs the program until it produces a row, which it returns, or
// halts, in which case it returns io.EOF. An execution error halts the VM
// and is returned by every later call.
func (v *VM) Step() (Row, error) {
	switch v.state {
	case StateHalt:
		if v.err != nil {
			return nil, v.err
		}
		return nil, io.EOF
	case StateReady:
		v.pc = 0
		v.state = StateRun
	}

	for v.pc < len(v.prog.Instructions) {
		ins := &v.prog.Instructions[v.pc]
		pc := v.pc
		v.pc++
		v.steps++

		row, err := v.exec(ins)
		if err != nil {
			v.err = fmt.Errorf("vdbe: pc=%d op=%s: %w", pc, ins.Opcode, err)
			v.halt()
			return nil, v.err
		}
		if v.state == StateHalt {
			return nil, io.EOF
		}
		if row != nil {
			return row, nil
		}
	}

	v.halt()
	return nil, io.EOF
}

// Run executes the program to completion, discarding any rows.
func (v *VM) Run() error {
	for {
		if _, err := v.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Rows returns the program's result rows as a single-pass sequence.
func (v *VM) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for {
			row, err := v.Step()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

// Refresh repositions every open cursor after the file was changed by
// another VM between two calls to Step.
func (v *VM) Refresh() error {
	for _, c := range v.cursors {
		if c == nil {
			continue
		}
		if err := c.bt.Refresh(); err != nil {
			return dberrors.Wrap(err, "vdbe: refresh")
		}
	}
	return nil
}

// Close halts the VM and releases its cursors.
func (v *VM) Close() {
	v.halt()
}

func (v *VM) halt() {
	v.state = StateHalt
	for i, c := range v.cursors {
		if c != nil {
			c.bt.Close()
			v.cursors[i] = nil
		}
	}
}

// jump moves the program counter to target.
func (v *VM) jump(target int) {
	v.pc = target
}

func (v *VM) cursor(n int) (*cursor, error) {
	if n < 0 || n >= len(v.cursors) || v.cursors[n] == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoCursor, n)
	}
	return v.cursors[n], nil
}

// exec runs one instruction and returns a row when the instruction is
// ResultRow.
func (v *VM) exec(ins *Instruction) (Row, error) {
	switch ins.Opcode {
	case OpInit, OpGoto:
		v.jump(ins.P2)
	case OpTransaction, OpNoop:
	case OpHalt:
		v.halt()

	case OpInteger:
		return nil, v.regs.setValue(ins.P2, record.Integer(int64(ins.P1)))
	case OpString:
		return nil, v.regs.setValue(ins.P2, record.Text(ins.P4))
	case OpNull:
		for r := ins.P2; r <= max(ins.P2, ins.P3); r++ {
			if err := v.regs.setValue(r, record.Null()); err != nil {
				return nil, err
			}
		}
	case OpSCopy:
		val, err := v.regs.value(ins.P1)
		if err != nil {
			return nil, err
		}
		return nil, v.regs.setValue(ins.P2, val)

	case OpOpenRead, OpOpenWrite:
		return nil, v.execOpen(ins)
	case OpRewind:
		return nil, v.execRewind(ins)
	case OpNext:
		return nil, v.execNext(ins)
	case OpSeekRowid:
		return nil, v.execSeekRowid(ins)
	case OpClose:
		c, err := v.cursor(ins.P1)
		if err != nil {
			return nil, err
		}
		c.bt.Close()
		v.cursors[ins.P1] = nil

	case OpKey, OpRowid:
		return nil, v.execRowid(ins)
	case OpColumn:
		return nil, v.execColumn(ins)
	case OpResultRow:
		return v.execResultRow(ins)

	case OpMakeRecord:
		return nil, v.execMakeRecord(ins)
	case OpNewRowid:
		return nil, v.execNewRowid(ins)
	case OpInsert:
		return nil, v.execInsert(ins)
	case OpCreateTable:
		return nil, v.execCreateTable(ins)

	case OpNe:
		return nil, v.execNe(ins)

	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", dberrors.ErrInvalidInput, ins.Opcode)
	}
	return nil, nil
}

func (v *VM) execOpen(ins *Instruction) error {
	if ins.P1 < 0 {
		return fmt.Errorf("%w: %d", ErrNoCursor, ins.P1)
	}
	if ins.P1 >= len(v.cursors) {
		v.cursors = append(v.cursors, make([]*cursor, ins.P1+1-len(v.cursors))...)
	}
	if ins.Opcode == OpOpenWrite && v.pager.IsReadOnly() {
		return pager.ErrReadOnly
	}

	tree, err := btree.Open(v.pager, uint32(ins.P2))
	if err != nil {
		return err
	}
	if old := v.cursors[ins.P1]; old != nil {
		old.bt.Close()
	}
	v.cursors[ins.P1] = &cursor{bt: tree.Cursor(), writable: ins.Opcode == OpOpenWrite}
	return nil
}

func (v *VM) execRewind(ins *Instruction) error {
	c, err := v.cursor(ins.P1)
	if err != nil {
		return err
	}
	if err := c.bt.SeekStart(); err != nil {
		return err
	}
	if !c.bt.Valid() {
		v.jump(ins.P2)
	}
	return nil
}

func (v *VM) execNext(ins *Instruction) error {
	c, err := v.cursor(ins.P1)
	if err != nil {
		return err
	}
	if err := c.bt.Advance(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if c.bt.Valid() {
		v.jump(ins.P2)
	}
	return nil
}

func (v *VM) execSeekRowid(ins *Instruction) error {
	c, err := v.cursor(ins.P1)
	if err != nil {
		return err
	}
	key, err := v.regs.value(ins.P3)
	if err != nil {
		return err
	}
	if key.Kind != record.KindInteger {
		v.jump(ins.P2)
		return nil
	}
	found, err := c.bt.Seek(key.Int)
	if err != nil {
		return err
	}
	if !found {
		v.jump(ins.P2)
	}
	return nil
}

func (v *VM) execRowid(ins *Instruction) error {
	c, err := v.cursor(ins.P1)
	if err != nil {
		return err
	}
	id, ok := c.bt.RowID()
	if !ok {
		return ErrNoRow
	}
	return v.regs.setValue(ins.P2, record.Integer(id))
}

// execColumn loads a column. Columns past the end of a stored record read
// as NULL.
func (v *VM) execColumn(ins *Instruction) error {
	c, err := v.cursor(ins.P1)
	if err != nil {
		return err
	}
	rec, ok := c.bt.Current()
	if !ok {
		return ErrNoRow
	}
	val := record.Null()
	if ins.P2 >= 0 && ins.P2 < len(rec) {
		val = rec[ins.P2]
	}
	return v.regs.setValue(ins.P3, val)
}

func (v *VM) execResultRow(ins *Instruction) (Row, error) {
	row := make(Row, ins.P2)
	for i := range row {
		val, err := v.regs.value(ins.P1 + i)
		if err != nil {
			return nil, err
		}
		row[i] = val
	}
	return row, nil
}

func (v *VM) execMakeRecord(ins *Instruction) error {
	rec := make(record.Record, ins.P2)
	for i := range rec {
		val, err := v.regs.value(ins.P1 + i)
		if err != nil {
			return err
		}
		rec[i] = val
	}
	return v.regs.setRecord(ins.P3, rec)
}

func (v *VM) execNewRowid(ins *Instruction) error {
	c, err := v.cursor(ins.P1)
	if err != nil {
		return err
	}
	id, err := c.bt.Tree().NewRowID()
	if err != nil {
		return err
	}
	return v.regs.setValue(ins.P2, record.Integer(id))
}

// execInsert stores a record. A NULL first column takes the row id from
// r[P3]; otherwise the two must agree.
func (v *VM) execInsert(ins *Instruction) error {
	c, err := v.cursor(ins.P1)
	if err != nil {
		return err
	}
	if !c.writable {
		return ErrReadCursor
	}
	rec, err := v.regs.record(ins.P2)
	if err != nil {
		return err
	}
	key, err := v.regs.value(ins.P3)
	if err != nil {
		return err
	}
	if key.Kind != record.KindInteger {
		return fmt.Errorf("%w: row id is %s", record.ErrNotInteger, key.Kind)
	}
	if len(rec) == 0 {
		return fmt.Errorf("%w: empty record", record.ErrNotInteger)
	}

	rec = rec.Clone()
	switch {
	case rec[0].IsNull():
		rec[0] = key
	case !rec[0].Equal(key):
		return fmt.Errorf("%w: record has %s, key is %d", ErrRowIDMismatch, rec[0], key.Int)
	}

	if err := c.bt.Insert(rec); err != nil {
		return err
	}
	if ins.P5&InsertNoChange == 0 {
		v.changes++
		v.lastInsertID = key.Int
	}
	return nil
}

func (v *VM) execCreateTable(ins *Instruction) error {
	tree, err := btree.Create(v.pager)
	if err != nil {
		return err
	}
	return v.regs.setValue(ins.P1, record.Integer(int64(tree.Root())))
}

// execNe jumps unless both operands are non-NULL and equal. Values of
// different kinds never compare equal.
func (v *VM) execNe(ins *Instruction) error {
	a, err := v.regs.value(ins.P1)
	if err != nil {
		return err
	}
	b, err := v.regs.value(ins.P3)
	if err != nil {
		return err
	}
	if a.IsNull() || b.IsNull() || !a.Equal(b) {
		v.jump(ins.P2)
	}
	return nil
}
