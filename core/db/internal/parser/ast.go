package parser

import (
	"strings"

	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
)

// Statement is a parsed SQL statement. The set of statements is closed:
// *CreateTable, *Insert, *Select and *Explain.
type Statement interface {
	statement()
	// SQL returns the statement text as it appeared in the input.
	SQL() string
}

// Affinity is the storage class a column type maps to.
type Affinity uint8

const (
	AffinityInteger Affinity = iota + 1
	AffinityText
)

// String returns the affinity name.
func (a Affinity) String() string {
	switch a {
	case AffinityInteger:
		return "INTEGER"
	case AffinityText:
		return "TEXT"
	}
	return "NONE"
}

// typeAffinity maps declared type names to affinities.
var typeAffinity = map[string]Affinity{
	"INT":      AffinityInteger,
	"INTEGER":  AffinityInteger,
	"BIGINT":   AffinityInteger,
	"SMALLINT": AffinityInteger,
	"TINYINT":  AffinityInteger,
	"TEXT":     AffinityText,
	"VARCHAR":  AffinityText,
	"CHAR":     AffinityText,
	"CLOB":     AffinityText,
	"STRING":   AffinityText,
}

// AffinityOf returns the affinity of a declared column type.
func AffinityOf(typeName string) (Affinity, bool) {
	a, ok := typeAffinity[strings.ToUpper(typeName)]
	return a, ok
}

// Column is one column definition of CREATE TABLE.
type Column struct {
	Name       string
	Type       string // Declared type as written
	Affinity   Affinity
	PrimaryKey bool
	NotNull    bool
}

// CreateTable is CREATE TABLE name (columns...).
type CreateTable struct {
	Name        string
	Columns     []Column
	IfNotExists bool
	Text        string
}

// Insert is INSERT INTO table [(columns)] VALUES (...), (...).
type Insert struct {
	Table   string
	Columns []string // nil means every column in table order
	Rows    [][]record.Value
	Text    string
}

// Where is an equality filter on one column.
type Where struct {
	Column string
	Value  record.Value
}

// Select is SELECT columns FROM table [WHERE column = value].
type Select struct {
	Table   string
	Columns []string // nil means *
	Where   *Where
	Text    string
}

// Explain wraps a statement whose program should be listed instead of run.
type Explain struct {
	Stmt Statement
	Text string
}

func (*CreateTable) statement() {}
func (*Insert) statement()      {}
func (*Select) statement()      {}
func (*Explain) statement()     {}

func (s *CreateTable) SQL() string { return s.Text }
func (s *Insert) SQL() string      { return s.Text }
func (s *Select) SQL() string      { return s.Text }
func (s *Explain) SQL() string     { return s.Text }
