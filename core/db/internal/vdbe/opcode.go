package vdbe

import "fmt"

// Opcode identifies a VM instruction.
type Opcode uint8

const (
	// Control flow
	OpInit        Opcode = iota // Jump to P2
	OpTransaction               // No-op; there are no transactions
	OpGoto                      // Jump to P2
	OpHalt                      // Stop execution
	OpNoop                      // Do nothing

	// Register loads
	OpInteger // r[P2] = P1
	OpString  // r[P2] = P4
	OpNull    // r[P2..max(P2,P3)] = NULL
	OpSCopy   // r[P2] = r[P1]

	// Cursors
	OpOpenRead  // Open read cursor P1 on the tree rooted at page P2; P3 columns
	OpOpenWrite // Open write cursor P1 on the tree rooted at page P2; P3 columns
	OpRewind    // Move cursor P1 to the first row; jump to P2 if empty
	OpNext      // Advance cursor P1; jump to P2 if a row remains
	OpSeekRowid // Move cursor P1 to row id r[P3]; jump to P2 if absent
	OpClose     // Close cursor P1

	// Row access
	OpKey       // r[P2] = row id under cursor P1
	OpRowid     // r[P2] = row id under cursor P1
	OpColumn    // r[P3] = column P2 of the row under cursor P1
	OpResultRow // Emit r[P1..P1+P2) as one result row

	// Writes
	OpMakeRecord  // r[P3] = record built from r[P1..P1+P2)
	OpNewRowid    // r[P2] = next unused row id in cursor P1's tree
	OpInsert      // Insert record r[P2] under row id r[P3] via cursor P1; P5 flags
	OpCreateTable // Allocate a new tree; r[P1] = its root page

	// Comparison
	OpNe // Jump to P2 unless r[P1] and r[P3] are equal and not NULL

	numOpcodes
)

// Insert flags (P5).
const (
	// InsertNoChange keeps the insert out of Changes and LastInsertID.
	InsertNoChange uint16 = 1 << iota
)

var opcodeNames = [numOpcodes]string{
	OpInit:        "Init",
	OpTransaction: "Transaction",
	OpGoto:        "Goto",
	OpHalt:        "Halt",
	OpNoop:        "Noop",
	OpInteger:     "Integer",
	OpString:      "String",
	OpNull:        "Null",
	OpSCopy:       "SCopy",
	OpOpenRead:    "OpenRead",
	OpOpenWrite:   "OpenWrite",
	OpRewind:      "Rewind",
	OpNext:        "Next",
	OpSeekRowid:   "SeekRowid",
	OpClose:       "Close",
	OpKey:         "Key",
	OpRowid:       "Rowid",
	OpColumn:      "Column",
	OpResultRow:   "ResultRow",
	OpMakeRecord:  "MakeRecord",
	OpNewRowid:    "NewRowid",
	OpInsert:      "Insert",
	OpCreateTable: "CreateTable",
	OpNe:          "Ne",
}

// String returns the opcode name as shown by EXPLAIN.
func (op Opcode) String() string {
	if op < numOpcodes {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// IsJump reports whether P2 of op is an instruction address.
func (op Opcode) IsJump() bool {
	switch op {
	case OpInit, OpGoto, OpRewind, OpNext, OpSeekRowid, OpNe:
		return true
	}
	return false
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op < numOpcodes
}
