// Package db is the public entry point to tinysql, a single-file
// relational database.
//
// A database is one file of fixed-size pages. Page 0 holds the schema
// table; every table is a B-tree keyed by its first, integer column. SQL
// statements are compiled to programs for a register-based VM.
//
// Use Open for direct access, or OpenSQL (driver name "tinysql") to go
// through database/sql:
//
//	d, err := db.Open("app.db", db.Options{})
//	if err != nil {
//		return err
//	}
//	defer d.Close()
//	_, err = d.Exec(ctx, "CREATE TABLE users(id INT, name TEXT)")
package db

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"iter"

	"github.com/FocuswithJustin/tinysql/core/cache"
	"github.com/FocuswithJustin/tinysql/core/db/internal/driver"
	"github.com/FocuswithJustin/tinysql/core/db/internal/engine"
	"github.com/FocuswithJustin/tinysql/core/db/internal/parser"
)

// DriverName is the database/sql driver name.
const DriverName = driver.Name

// Options configures Open.
type Options struct {
	// PageSize is the page size: a power of two from 512 to 65536. Zero
	// selects 4096. An existing file must be opened with the size it was
	// created with.
	PageSize int
	// ReadOnly rejects statements that write. A file not already open in
	// this process is opened without write access.
	ReadOnly bool
	// CacheSize is the number of pages kept in memory for reads. Zero
	// selects 256; a negative value disables caching.
	CacheSize int
}

// DB is an open database file.
type DB struct {
	e *engine.Engine
}

// Open opens or creates the database file at path. Opening a path that is
// already open in this process shares the underlying file handle.
func Open(path string, opts Options) (*DB, error) {
	e, err := engine.Open(path, engine.Options{PageSize: opts.PageSize, ReadOnly: opts.ReadOnly, CacheSize: opts.CacheSize})
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// OpenSQL opens the database through database/sql. The data source name
// is a path with optional page_size and mode=ro parameters.
func OpenSQL(dsn string) (*sql.DB, error) {
	return sql.Open(DriverName, dsn)
}

// Close releases the database. Close is idempotent.
func (d *DB) Close() error {
	if d.e == nil {
		return nil
	}
	err := d.e.Close()
	d.e = nil
	return err
}

// Path returns the absolute path of the database file.
func (d *DB) Path() string {
	return d.e.Path()
}

// PageSize returns the file's page size.
func (d *DB) PageSize() int {
	return d.e.PageSize()
}

// Pages returns the number of pages in the file.
func (d *DB) Pages() int {
	return d.e.Pages()
}

// CacheStats returns page cache statistics for the file. Handles on the
// same file share one cache.
func (d *DB) CacheStats() cache.Stats {
	return d.e.CacheStats()
}

// Result reports the effect of Exec.
type Result struct {
	RowsAffected int64 // Rows inserted
	LastInsertID int64 // Row id of the last inserted row
}

// Exec runs every statement in sql. Rows returned by queries are
// discarded.
func (d *DB) Exec(ctx context.Context, sql string) (Result, error) {
	if d.e == nil {
		return Result{}, engine.ErrClosed
	}
	res, err := d.e.Exec(ctx, sql)
	return Result{RowsAffected: res.RowsAffected, LastInsertID: res.LastInsertID}, err
}

// Query runs a single statement and returns its rows.
func (d *DB) Query(ctx context.Context, sql string) (*Rows, error) {
	if d.e == nil {
		return nil, engine.ErrClosed
	}
	rows, err := d.e.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

// Split parses a script and returns the text of each statement, so
// callers can Query them one at a time.
func Split(sql string) ([]string, error) {
	stmts, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(stmts))
	for i, st := range stmts {
		out[i] = st.SQL()
	}
	return out, nil
}

// Table describes one table of the schema.
type Table struct {
	Name     string
	RootPage uint32
	SQL      string
	Columns  []string
}

// Tables lists the tables in creation order.
func (d *DB) Tables() ([]Table, error) {
	if d.e == nil {
		return nil, engine.ErrClosed
	}
	s, err := d.e.Schema()
	if err != nil {
		return nil, err
	}
	tables := make([]Table, len(s.Tables))
	for i, t := range s.Tables {
		tables[i] = Table{Name: t.Name, RootPage: t.RootPage, SQL: t.SQL, Columns: t.ColumnNames()}
	}
	return tables, nil
}

// Rows is the result of a query. Values are nil, int64 or string.
type Rows struct {
	rows *engine.Rows
}

// Columns returns the result column names.
func (r *Rows) Columns() []string {
	return r.rows.Columns()
}

// Next returns the next row, or io.EOF after the last one.
func (r *Rows) Next(ctx context.Context) ([]any, error) {
	row, err := r.rows.Next(ctx)
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(row))
	for i, v := range row {
		vals[i] = v.Any()
	}
	return vals, nil
}

// All returns the remaining rows as a sequence. Iteration stops after
// the first error.
func (r *Rows) All(ctx context.Context) iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		for {
			row, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

// Changes returns the number of rows inserted by the statement so far.
func (r *Rows) Changes() int64 {
	return r.rows.Changes()
}

// LastInsertID returns the row id of the last row the statement inserted.
func (r *Rows) LastInsertID() int64 {
	return r.rows.LastInsertID()
}

// Close stops the query.
func (r *Rows) Close() error {
	return r.rows.Close()
}
