// Package engine ties the storage layers, the compiler and the VM together
// behind handles on a database file.
//
// The pager's advisory lock belongs to the open file, so a process must
// not open the same file twice. Open therefore shares one open file per
// absolute path between handles and counts references; the file is
// closed when the last handle is released. All access to a file is
// serialized by its mutex.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/FocuswithJustin/tinysql/core/cache"
	"github.com/FocuswithJustin/tinysql/core/db/internal/compiler"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	"github.com/FocuswithJustin/tinysql/core/db/internal/parser"
	"github.com/FocuswithJustin/tinysql/core/db/internal/schema"
	"github.com/FocuswithJustin/tinysql/core/db/internal/vdbe"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
	"github.com/FocuswithJustin/tinysql/internal/logging"
)

// ErrClosed is returned by operations on a released Engine.
var ErrClosed = errors.New("engine: database is closed")

// Options configures Open.
type Options struct {
	PageSize  int  // Page size for new files; 0 means pager.DefaultPageSize
	ReadOnly  bool // Reject statements that write
	CacheSize int  // Pages in the read cache; see pager.Options
}

// file is the state shared by every Engine on one path.
type file struct {
	mu    sync.Mutex
	pager *pager.Pager
	path  string
	refs  int
	// gen counts committed writes so open Rows notice a changed file.
	gen uint64
}

// Engine is one handle on a shared database file. A read-only handle
// may share a file opened for writing; it rejects writing statements.
type Engine struct {
	f        *file
	readOnly bool
	closed   bool
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*file)
)

// Open returns a new handle on path, opening the file if no handle on it
// exists yet. Every successful Open must be paired with Close.
func Open(path string, opts Options) (*Engine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if f, ok := registry[abs]; ok {
		if opts.PageSize != 0 && opts.PageSize != f.pager.PageSize() {
			return nil, fmt.Errorf("%w: %s is open with page size %d, not %d",
				dberrors.ErrInvalidInput, path, f.pager.PageSize(), opts.PageSize)
		}
		if !opts.ReadOnly && f.pager.IsReadOnly() {
			return nil, fmt.Errorf("%w: %s is open read-only", dberrors.ErrInvalidInput, path)
		}
		f.mu.Lock()
		f.refs++
		f.mu.Unlock()
		return &Engine{f: f, readOnly: opts.ReadOnly}, nil
	}

	p, err := pager.OpenWithOptions(abs, pager.Options{PageSize: opts.PageSize, ReadOnly: opts.ReadOnly, CacheSize: opts.CacheSize})
	if err != nil {
		return nil, err
	}
	if err := schema.Init(p); err != nil {
		p.Close()
		return nil, err
	}

	f := &file{pager: p, path: abs, refs: 1}
	registry[abs] = f
	logging.DatabaseOpened(abs, p.PageSize(), int(p.Len()), "read_only", opts.ReadOnly)
	return &Engine{f: f, readOnly: opts.ReadOnly}, nil
}

// Close releases the handle. The file is closed with the last handle.
// Closing a handle twice is a no-op.
func (e *Engine) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	f := e.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	f.refs--
	if f.refs > 0 {
		return nil
	}
	delete(registry, f.path)
	logging.DatabaseClosed(f.path)
	return f.pager.Close()
}

// Path returns the absolute path of the database file.
func (e *Engine) Path() string {
	return e.f.path
}

// PageSize returns the file's page size.
func (e *Engine) PageSize() int {
	return e.f.pager.PageSize()
}

// ReadOnly reports whether the handle rejects writes.
func (e *Engine) ReadOnly() bool {
	return e.readOnly || e.f.pager.IsReadOnly()
}

// Pages returns the number of pages in the file.
func (e *Engine) Pages() int {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	return int(e.f.pager.Len())
}

// CacheStats returns the page cache statistics.
func (e *Engine) CacheStats() cache.Stats {
	return e.f.pager.CacheStats()
}

// Schema returns a snapshot of the schema table.
func (e *Engine) Schema() (*schema.Schema, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return schema.Load(e.f.pager)
}

// Result summarizes the writes of an Exec.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Exec runs every statement in sql in order. Rows produced by queries
// are discarded. Execution stops at the first failing statement; the
// writes made before the failure remain and are counted in the Result.
func (e *Engine) Exec(ctx context.Context, sql string) (Result, error) {
	stmts, err := parser.Parse(sql)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, last, err := e.execOne(ctx, stmt)
		res.RowsAffected += n
		if n > 0 {
			res.LastInsertID = last
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// execOne runs stmt to completion. The counts are valid even when it
// fails: rows inserted before the failure stay in the file.
func (e *Engine) execOne(ctx context.Context, stmt parser.Statement) (int64, int64, error) {
	f := e.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.closed {
		return 0, 0, ErrClosed
	}

	start := time.Now()
	prog, err := e.compile(stmt)
	if err != nil {
		return 0, 0, err
	}
	vm := vdbe.New(prog, f.pager)
	defer vm.Close()
	err = vm.Run()
	if prog.Writes() {
		f.gen++
	}
	if err != nil {
		return vm.Changes(), vm.LastInsertID(), err
	}
	logging.StatementExecuted(ctx, stmt.SQL(), vm.Changes(), time.Since(start))
	return vm.Changes(), vm.LastInsertID(), nil
}

// compile builds the program for stmt, refusing writes on a read-only
// handle. The file lock must be held.
func (e *Engine) compile(stmt parser.Statement) (*vdbe.Program, error) {
	prog, err := compiler.Compile(e.f.pager, stmt)
	if err != nil {
		return nil, err
	}
	if e.readOnly && prog.Writes() {
		return nil, fmt.Errorf("engine: %w: %s", pager.ErrReadOnly, stmt.SQL())
	}
	return prog, nil
}

// Query compiles a single statement and returns its rows. The program
// runs one step per call to Rows.Next, holding the file lock only for
// that step. If another statement writes to the file between two steps,
// the query's cursors are repositioned on their current rows, so rows
// inserted ahead of them are still returned.
func (e *Engine) Query(ctx context.Context, sql string) (*Rows, error) {
	stmt, err := parser.ParseOne(sql)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := e.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	prog, err := e.compile(stmt)
	if err != nil {
		return nil, err
	}
	return &Rows{
		f:       f,
		vm:      vdbe.New(prog, f.pager),
		columns: prog.Columns,
		sql:     stmt.SQL(),
		start:   time.Now(),
		gen:     f.gen,
		writes:  prog.Writes(),
	}, nil
}

// Rows iterates over the result of Query.
type Rows struct {
	f       *file
	vm      *vdbe.VM
	columns []string
	sql     string
	start   time.Time
	gen     uint64
	writes  bool
	count   int64
	closed  bool
}

// Columns returns the result column names.
func (r *Rows) Columns() []string {
	return r.columns
}

// Next returns the next row, or io.EOF after the last one.
func (r *Rows) Next(ctx context.Context) (vdbe.Row, error) {
	if r.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row, err := r.step()
	switch {
	case errors.Is(err, io.EOF):
		logging.StatementExecuted(ctx, r.sql, r.count, time.Since(r.start))
		r.close()
		return nil, io.EOF
	case err != nil:
		r.close()
		return nil, err
	}
	r.count++
	return row, nil
}

func (r *Rows) step() (vdbe.Row, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	if r.gen != r.f.gen {
		if err := r.vm.Refresh(); err != nil {
			return nil, err
		}
	}
	row, err := r.vm.Step()
	if r.writes {
		r.f.gen++
	}
	r.gen = r.f.gen
	return row, err
}

// Changes returns the number of rows the statement inserted so far.
func (r *Rows) Changes() int64 {
	return r.vm.Changes()
}

// LastInsertID returns the row id of the last row the statement inserted.
func (r *Rows) LastInsertID() int64 {
	return r.vm.LastInsertID()
}

// Close stops the query. It is safe to call more than once.
func (r *Rows) Close() error {
	if !r.closed {
		r.close()
	}
	return nil
}

func (r *Rows) close() {
	r.closed = true
	r.vm.Close()
}
