// Package xmlimport loads rows from XML documents into tinysql tables.
//
// A Mapping selects one node per row with an XPath expression and
// evaluates one relative XPath expression per column against it:
//
//	<books>
//	  <book id="7"><title>Dune</title></book>
//	</books>
//
//	Mapping{Table: "books", Rows: "//book",
//		Columns: []Column{{Name: "id", Path: "@id"}, {Name: "title"}}}
//
// Columns whose expression selects nothing are stored as NULL.
package xmlimport

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/tinysql/core/db"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
	"github.com/FocuswithJustin/tinysql/internal/validation"
)

// DefaultBatch is the number of rows per INSERT statement.
const DefaultBatch = 100

// Column maps one table column to an XPath expression.
type Column struct {
	Name string
	Path string // Relative to the row node. Empty means the child element Name.
}

// Mapping describes how an XML document becomes rows of Table.
type Mapping struct {
	Table   string
	Rows    string
	Columns []Column
}

// ParseColumns parses a comma-separated column list. Each entry is a name
// or name=xpath:
//
//	id=@id,title,author=meta/author
func ParseColumns(list string) ([]Column, error) {
	var cols []Column
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		name, path, _ := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty column in %q", dberrors.ErrInvalidInput, list)
		}
		cols = append(cols, Column{Name: name, Path: strings.TrimSpace(path)})
	}
	return cols, nil
}

type compiled struct {
	rows *xpath.Expr
	cols []*xpath.Expr
}

func (m Mapping) compile() (*compiled, error) {
	if m.Table == "" || len(m.Columns) == 0 {
		return nil, fmt.Errorf("%w: mapping needs a table and at least one column", dberrors.ErrInvalidInput)
	}
	if err := validation.ValidateIdentifier(m.Table); err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	for _, col := range m.Columns {
		if err := validation.ValidateIdentifier(col.Name); err != nil {
			return nil, fmt.Errorf("column: %w", err)
		}
	}
	rows, err := xpath.Compile(m.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid row xpath %q: %v", dberrors.ErrInvalidInput, m.Rows, err)
	}
	c := &compiled{rows: rows}
	for _, col := range m.Columns {
		path := col.Path
		if path == "" {
			path = col.Name
		}
		expr, err := xpath.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid xpath %q for column %s: %v", dberrors.ErrInvalidInput, path, col.Name, err)
		}
		c.cols = append(c.cols, expr)
	}
	return c, nil
}

// Statements parses the XML in r and returns INSERT statements for the
// selected rows, batch rows per statement.
func Statements(r io.Reader, m Mapping, batch int) ([]string, error) {
	c, err := m.compile()
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing XML: %v", dberrors.ErrInvalidInput, err)
	}

	prefix := insertPrefix(m)
	var stmts []string
	var sb strings.Builder
	n := 0
	for _, node := range xmlquery.QuerySelectorAll(doc, c.rows) {
		if n == 0 {
			sb.Reset()
			sb.WriteString(prefix)
		} else {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for i, expr := range c.cols {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(literal(expr.Evaluate(xmlquery.CreateXPathNavigator(node))))
		}
		sb.WriteByte(')')
		n++
		if n == batch {
			stmts = append(stmts, sb.String())
			n = 0
		}
	}
	if n > 0 {
		stmts = append(stmts, sb.String())
	}
	return stmts, nil
}

func insertPrefix(m Mapping) string {
	names := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		names[i] = quoteIdent(col.Name)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ", quoteIdent(m.Table), strings.Join(names, ", "))
}

// literal renders an XPath result as a SQL literal. Node sets use the
// string value of their first node; integral numbers become integers.
func literal(v any) string {
	switch v := v.(type) {
	case *xpath.NodeIterator:
		if !v.MoveNext() {
			return "NULL"
		}
		return quoteText(v.Current().Value())
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return strconv.FormatInt(int64(v), 10)
		}
		return quoteText(strconv.FormatFloat(v, 'g', -1, 64))
	case bool:
		if v {
			return "1"
		}
		return "0"
	case string:
		return quoteText(v)
	default:
		return "NULL"
	}
}

func quoteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Import inserts the rows selected from r into d and returns the number of
// rows inserted. Batches already written stay written when a later batch
// fails.
func Import(ctx context.Context, d *db.DB, r io.Reader, m Mapping, batch int) (int64, error) {
	stmts, err := Statements(r, m, batch)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range stmts {
		res, err := d.Exec(ctx, s)
		total += res.RowsAffected
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
