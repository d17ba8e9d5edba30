package vdbe

import (
	"fmt"
	"strconv"
	"strings"

	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Instruction is one VM operation.
type Instruction struct {
	Opcode  Opcode // Operation to perform
	P1      int    // First operand
	P2      int    // Second operand (jump target for jumps)
	P3      int    // Third operand
	P4      string // Text operand
	P5      uint16 // Flags
	Comment string // Shown by Explain
}

// Program is an immutable, fully resolved instruction list.
type Program struct {
	Instructions []Instruction
	Columns      []string // Result column names, if the program returns rows
	NumRegisters int      // Registers allocated by the builder
	NumCursors   int      // Cursors allocated by the builder
}

// Validate checks that every opcode is known and every jump target lies
// within the program.
func (p *Program) Validate() error {
	for pc, ins := range p.Instructions {
		if !ins.Opcode.Valid() {
			return fmt.Errorf("%w: pc=%d: unknown opcode %d", dberrors.ErrInvalidInput, pc, ins.Opcode)
		}
		if ins.Opcode.IsJump() && (ins.P2 < 0 || ins.P2 > len(p.Instructions)) {
			return fmt.Errorf("%w: pc=%d: %s jumps to %d", dberrors.ErrInvalidInput, pc, ins.Opcode, ins.P2)
		}
	}
	return nil
}

// Writes reports whether running the program can modify the file.
func (p *Program) Writes() bool {
	for _, ins := range p.Instructions {
		if ins.Opcode == OpOpenWrite || ins.Opcode == OpCreateTable {
			return true
		}
	}
	return false
}

// Explain renders the program one instruction per line.
func (p *Program) Explain() string {
	if len(p.Instructions) == 0 {
		return "Empty program"
	}

	var sb strings.Builder
	sb.WriteString("addr  opcode         p1    p2    p3    p4             p5  comment\n")
	sb.WriteString("----  -------------  ----  ----  ----  -------------  --  -------\n")
	for addr, ins := range p.Instructions {
		p4 := ""
		if ins.P4 != "" {
			p4 = strconv.Quote(ins.P4)
		}
		line := fmt.Sprintf("%-4d  %-13s  %-4d  %-4d  %-4d  %-13s  %-2d  %s",
			addr, ins.Opcode, ins.P1, ins.P2, ins.P3, p4, ins.P5, ins.Comment)
		sb.WriteString(strings.TrimRight(line, " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Label is a forward reference to an instruction address that is not yet
// known.
type Label int

// Builder assembles a Program. It owns the register and cursor counters
// for one compilation and resolves labels when the program is built.
type Builder struct {
	ins      []Instruction
	labels   []int // label -> address, -1 until resolved
	fixups   []fixup
	nextReg  int
	nextCur  int
	columns  []string
	finished bool
}

type fixup struct {
	addr  int
	label Label
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an instruction and returns its address.
func (b *Builder) Add(op Opcode, p1, p2, p3 int) int {
	b.ins = append(b.ins, Instruction{Opcode: op, P1: p1, P2: p2, P3: p3})
	return len(b.ins) - 1
}

// AddP4 appends an instruction with a text operand.
func (b *Builder) AddP4(op Opcode, p1, p2, p3 int, p4 string) int {
	addr := b.Add(op, p1, p2, p3)
	b.ins[addr].P4 = p4
	return addr
}

// AddJump appends an instruction whose P2 is the address of target.
func (b *Builder) AddJump(op Opcode, p1 int, target Label, p3 int) int {
	addr := b.Add(op, p1, 0, p3)
	b.fixups = append(b.fixups, fixup{addr: addr, label: target})
	return addr
}

// SetP5 sets the flags of the instruction at addr.
func (b *Builder) SetP5(addr int, p5 uint16) {
	if addr >= 0 && addr < len(b.ins) {
		b.ins[addr].P5 = p5
	}
}

// Comment attaches a comment to the instruction at addr.
func (b *Builder) Comment(addr int, format string, args ...any) {
	if addr >= 0 && addr < len(b.ins) {
		b.ins[addr].Comment = fmt.Sprintf(format, args...)
	}
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label(len(b.labels) - 1)
}

// Resolve binds l to the address of the next instruction added.
func (b *Builder) Resolve(l Label) {
	b.labels[l] = len(b.ins)
}

// Addr returns the address the next instruction will get.
func (b *Builder) Addr() int {
	return len(b.ins)
}

// Registers reserves n consecutive registers and returns the first.
func (b *Builder) Registers(n int) int {
	first := b.nextReg
	b.nextReg += n
	return first
}

// Cursor reserves a cursor number.
func (b *Builder) Cursor() int {
	c := b.nextCur
	b.nextCur++
	return c
}

// SetColumns records the names of the result columns.
func (b *Builder) SetColumns(names ...string) {
	b.columns = names
}

// Build resolves every label and returns the finished program. The
// builder cannot be used afterwards.
func (b *Builder) Build() (*Program, error) {
	if b.finished {
		return nil, fmt.Errorf("%w: builder already used", dberrors.ErrInvalidInput)
	}
	b.finished = true

	ins := make([]Instruction, len(b.ins))
	copy(ins, b.ins)
	for _, f := range b.fixups {
		target := b.labels[f.label]
		if target < 0 {
			return nil, fmt.Errorf("%w: label %d used at pc=%d was never resolved", dberrors.ErrInvalidInput, f.label, f.addr)
		}
		ins[f.addr].P2 = target
	}

	p := &Program{
		Instructions: ins,
		Columns:      b.columns,
		NumRegisters: b.nextReg,
		NumCursors:   b.nextCur,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
