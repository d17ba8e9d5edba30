// Package schema reads and describes the schema table.
//
// The schema table is an ordinary B-tree rooted at page 0. Each row
// describes one table:
//
//	(id, type, name, tbl_name, rootpage, sql)
//
// where id is a sequential row id starting at 1, type is always "table",
// and sql is the CREATE TABLE text the table was created with. Rows are
// written by compiled programs; this package only creates the empty root
// and loads the rows back.
package schema

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/tinysql/core/db/internal/btree"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	"github.com/FocuswithJustin/tinysql/core/db/internal/parser"
	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// RootPage is the root page of the schema table.
const RootPage = 0

// TypeTable is the only object type stored in the schema table.
const TypeTable = "table"

// Column positions within a schema row.
const (
	ColID = iota
	ColType
	ColName
	ColTblName
	ColRootPage
	ColSQL

	NumColumns
)

// Row is one decoded schema row.
type Row struct {
	ID       int64
	Type     string
	Name     string
	TblName  string
	RootPage uint32
	SQL      string
}

// Record encodes the row in schema-table column order.
func (r Row) Record() record.Record {
	return record.Record{
		record.Integer(r.ID),
		record.Text(r.Type),
		record.Text(r.Name),
		record.Text(r.TblName),
		record.Integer(int64(r.RootPage)),
		record.Text(r.SQL),
	}
}

// rowFromRecord validates and decodes a stored schema record.
func rowFromRecord(rec record.Record) (Row, error) {
	if len(rec) != NumColumns {
		return Row{}, fmt.Errorf("schema row has %d columns, want %d", len(rec), NumColumns)
	}
	for _, c := range []int{ColType, ColName, ColTblName, ColSQL} {
		if rec[c].Kind != record.KindText {
			return Row{}, fmt.Errorf("schema row %d: column %d is %s, want text", rec[ColID].Int, c, rec[c].Kind)
		}
	}
	if rec[ColRootPage].Kind != record.KindInteger || rec[ColRootPage].Int < 0 {
		return Row{}, fmt.Errorf("schema row %d: bad root page %s", rec[ColID].Int, rec[ColRootPage])
	}
	return Row{
		ID:       rec[ColID].Int,
		Type:     rec[ColType].Text,
		Name:     rec[ColName].Text,
		TblName:  rec[ColTblName].Text,
		RootPage: uint32(rec[ColRootPage].Int),
		SQL:      rec[ColSQL].Text,
	}, nil
}

// Table is a user table described by a schema row.
type Table struct {
	ID       int64
	Name     string
	RootPage uint32
	SQL      string
	Columns  []parser.Column
}

// ColumnIndex returns the position of the named column, or -1.
// Column names are case-insensitive.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema is a snapshot of the schema table.
type Schema struct {
	Tables []*Table // In creation order
}

// Table looks a table up by name. Table names are case-insensitive.
func (s *Schema) Table(name string) (*Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return nil, false
}

// Init creates the empty schema table in a new file. It does nothing if
// the file already has pages.
func Init(p *pager.Pager) error {
	if p.Len() > 0 || p.IsReadOnly() {
		return nil
	}
	tree, err := btree.Create(p)
	if err != nil {
		return dberrors.Wrap(err, "schema: create")
	}
	if tree.Root() != RootPage {
		return dberrors.NewCorrupt(p.Filename(), fmt.Sprintf("schema root allocated at page %d", tree.Root()))
	}
	return nil
}

// Rows returns every schema row in id order. A file without pages has
// no rows.
func Rows(p *pager.Pager) ([]Row, error) {
	if p.Len() == 0 {
		return nil, nil
	}
	tree, err := btree.Open(p, RootPage)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for rec, err := range tree.Scan() {
		if err != nil {
			return nil, dberrors.Wrap(err, "schema")
		}
		row, err := rowFromRecord(rec)
		if err != nil {
			return nil, dberrors.NewCorrupt(p.Filename(), err.Error())
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Load reads the schema table and parses each table definition.
func Load(p *pager.Pager) (*Schema, error) {
	rows, err := Rows(p)
	if err != nil {
		return nil, err
	}

	s := &Schema{}
	for _, row := range rows {
		if row.Type != TypeTable {
			continue
		}
		t, err := tableFromRow(row)
		if err != nil {
			return nil, dberrors.NewCorrupt(p.Filename(), err.Error())
		}
		s.Tables = append(s.Tables, t)
	}
	return s, nil
}

func tableFromRow(row Row) (*Table, error) {
	stmt, err := parser.ParseOne(row.SQL)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", row.Name, err)
	}
	ct, ok := stmt.(*parser.CreateTable)
	if !ok {
		return nil, fmt.Errorf("table %s: sql is not CREATE TABLE", row.Name)
	}
	return &Table{
		ID:       row.ID,
		Name:     row.Name,
		RootPage: row.RootPage,
		SQL:      row.SQL,
		Columns:  ct.Columns,
	}, nil
}
