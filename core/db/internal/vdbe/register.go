package vdbe

import (
	"fmt"

	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
)

// regState tells what a register currently holds.
type regState uint8

const (
	regUnset  regState = iota // Never written
	regValue                  // A scalar value
	regRecord                 // A record built by MakeRecord
)

// Register is one VM storage slot.
type Register struct {
	state  regState
	value  record.Value
	record record.Record
}

// IsSet reports whether the register has been written.
func (r Register) IsSet() bool {
	return r.state != regUnset
}

// String renders the register for debugging.
func (r Register) String() string {
	switch r.state {
	case regValue:
		return r.value.String()
	case regRecord:
		return fmt.Sprintf("record%v", []record.Value(r.record))
	}
	return "<unset>"
}

// registers is the VM register file. It grows on write; reading an
// address that was never written is a program defect.
type registers []Register

func (rs *registers) slot(addr int) (*Register, error) {
	if addr < 0 {
		return nil, fmt.Errorf("%w: r[%d]", ErrBadRegister, addr)
	}
	if addr >= len(*rs) {
		*rs = append(*rs, make([]Register, addr+1-len(*rs))...)
	}
	return &(*rs)[addr], nil
}

func (rs *registers) setValue(addr int, v record.Value) error {
	r, err := rs.slot(addr)
	if err != nil {
		return err
	}
	*r = Register{state: regValue, value: v}
	return nil
}

func (rs *registers) setRecord(addr int, rec record.Record) error {
	r, err := rs.slot(addr)
	if err != nil {
		return err
	}
	*r = Register{state: regRecord, record: rec}
	return nil
}

func (rs registers) get(addr int) (Register, error) {
	if addr < 0 || addr >= len(rs) || rs[addr].state == regUnset {
		return Register{}, fmt.Errorf("%w: r[%d]", ErrUnsetRegister, addr)
	}
	return rs[addr], nil
}

func (rs registers) value(addr int) (record.Value, error) {
	r, err := rs.get(addr)
	if err != nil {
		return record.Value{}, err
	}
	if r.state != regValue {
		return record.Value{}, fmt.Errorf("%w: r[%d] holds a record, not a value", ErrBadRegister, addr)
	}
	return r.value, nil
}

func (rs registers) record(addr int) (record.Record, error) {
	r, err := rs.get(addr)
	if err != nil {
		return nil, err
	}
	if r.state != regRecord {
		return nil, fmt.Errorf("%w: r[%d] holds %s, not a record", ErrBadRegister, addr, r.value.Kind)
	}
	return r.record, nil
}
