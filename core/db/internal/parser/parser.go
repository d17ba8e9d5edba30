// Package parser turns SQL text into statements for the compiler.
//
// The accepted language is a small subset:
//
//	CREATE TABLE [IF NOT EXISTS] name (col TYPE [PRIMARY KEY] [NOT NULL], ...)
//	INSERT INTO name [(col, ...)] VALUES (lit, ...)[, (lit, ...)]
//	SELECT * | col, ... FROM name [WHERE col = lit]
//	EXPLAIN statement
//
// Literals are integers, single-quoted strings and NULL. A quote inside a
// string is doubled:
//
//	INSERT INTO t VALUES (1, 'it''s')
//
// Statements are separated by semicolons; -- starts a comment.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Parse parses every statement in sql.
func Parse(sql string) ([]Statement, error) {
	script, err := sqlParser.ParseString("", sql)
	if err != nil {
		return nil, syntaxError(err)
	}

	stmts := make([]Statement, 0, len(script.Statements))
	for _, s := range script.Statements {
		stmt, err := convert(sql, s)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// ParseOne parses sql, which must hold exactly one statement.
func ParseOne(sql string) (Statement, error) {
	stmts, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, dberrors.NewSyntax(fmt.Sprintf("expected one statement, found %d", len(stmts)), nil)
	}
	return stmts[0], nil
}

func syntaxError(err error) error {
	perr := dberrors.NewSyntax(err.Error(), nil)
	var pe participle.Error
	if errors.As(err, &pe) {
		perr.Message = pe.Message()
		perr.Offset = pe.Position().Offset
	}
	return perr
}

func syntaxErrorf(offset int, format string, args ...any) error {
	perr := dberrors.NewSyntax(fmt.Sprintf(format, args...), nil)
	perr.Offset = offset
	return perr
}

func convert(src string, s *sqlStatement) (Statement, error) {
	var (
		inner Statement
		err   error
	)
	switch {
	case s.Create != nil:
		inner, err = convertCreate(src, s.Create)
	case s.Insert != nil:
		inner, err = convertInsert(src, s.Insert)
	case s.Select != nil:
		inner, err = convertSelect(src, s.Select)
	default:
		return nil, syntaxErrorf(s.Pos.Offset, "empty statement")
	}
	if err != nil {
		return nil, err
	}
	if s.Explain {
		return &Explain{Stmt: inner, Text: span(src, s.Pos.Offset, s.EndPos.Offset)}, nil
	}
	return inner, nil
}

func convertCreate(src string, c *createStmt) (*CreateTable, error) {
	out := &CreateTable{
		Name:        unquoteIdent(c.Table),
		IfNotExists: c.IfNotExists,
		Text:        span(src, c.Pos.Offset, c.EndPos.Offset),
	}
	seen := make(map[string]bool, len(c.Columns))
	for i, def := range c.Columns {
		col := Column{
			Name:       unquoteIdent(def.Name),
			Type:       def.Type,
			PrimaryKey: def.PrimaryKey,
			NotNull:    def.NotNull,
		}
		aff, ok := AffinityOf(def.Type)
		if !ok {
			return nil, syntaxErrorf(c.Pos.Offset, "column %q: unknown type %q", col.Name, def.Type)
		}
		col.Affinity = aff

		key := strings.ToLower(col.Name)
		if seen[key] {
			return nil, syntaxErrorf(c.Pos.Offset, "duplicate column %q", col.Name)
		}
		seen[key] = true

		if i == 0 && aff != AffinityInteger {
			return nil, syntaxErrorf(c.Pos.Offset, "first column %q must be an integer row id", col.Name)
		}
		if i > 0 && col.PrimaryKey {
			return nil, syntaxErrorf(c.Pos.Offset, "only the first column can be the primary key")
		}
		out.Columns = append(out.Columns, col)
	}
	return out, nil
}

func convertInsert(src string, ins *insertStmt) (*Insert, error) {
	out := &Insert{
		Table: unquoteIdent(ins.Table),
		Text:  span(src, ins.Pos.Offset, ins.EndPos.Offset),
	}
	for _, c := range ins.Columns {
		out.Columns = append(out.Columns, unquoteIdent(c))
	}
	for _, row := range ins.Rows {
		vals := make([]record.Value, len(row.Values))
		for i, lit := range row.Values {
			v, err := convertLiteral(lit)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, nil
}

func convertSelect(src string, sel *selectStmt) (*Select, error) {
	out := &Select{
		Table: unquoteIdent(sel.Table),
		Text:  span(src, sel.Pos.Offset, sel.EndPos.Offset),
	}
	if !(len(sel.Columns) == 1 && sel.Columns[0] == "*") {
		for _, c := range sel.Columns {
			out.Columns = append(out.Columns, unquoteIdent(c))
		}
	}
	if sel.Where != nil {
		v, err := convertLiteral(sel.Where.Value)
		if err != nil {
			return nil, err
		}
		out.Where = &Where{Column: unquoteIdent(sel.Where.Column), Value: v}
	}
	return out, nil
}

func convertLiteral(lit *literal) (record.Value, error) {
	switch {
	case lit.Null:
		return record.Null(), nil
	case lit.Number != nil:
		n, err := strconv.ParseInt(*lit.Number, 10, 64)
		if err != nil {
			return record.Value{}, syntaxErrorf(lit.Pos.Offset, "integer %s out of range", *lit.Number)
		}
		return record.Integer(n), nil
	case lit.Text != nil:
		return record.Text(unquoteString(*lit.Text)), nil
	}
	return record.Value{}, syntaxErrorf(lit.Pos.Offset, "missing literal")
}

// span returns the trimmed source text between two offsets.
func span(src string, start, end int) string {
	if end < start || end > len(src) {
		end = len(src)
	}
	return strings.TrimSpace(src[start:end])
}

// unquoteString strips single quotes and collapses doubled quotes.
func unquoteString(s string) string {
	return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
}

// unquoteIdent strips double quotes from a quoted identifier.
func unquoteIdent(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}
