package driver

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"sync"

	"github.com/FocuswithJustin/tinysql/core/db/internal/engine"
	"github.com/FocuswithJustin/tinysql/core/db/internal/parser"
	"github.com/FocuswithJustin/tinysql/core/db/internal/vdbe"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Conn implements database/sql/driver.Conn.
type Conn struct {
	mu     sync.Mutex
	engine *engine.Engine
	closed bool
}

var (
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
)

// errNoArgs rejects placeholder arguments; the SQL subset has none.
var errNoArgs = dberrors.NewUnsupported("query arguments", "statements take literal values only")

func (c *Conn) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return driver.ErrBadConn
	}
	return nil
}

// Prepare prepares a SQL statement.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext parses query so syntax errors surface at prepare time.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if _, err := parser.Parse(query); err != nil {
		return nil, err
	}
	return &Stmt{conn: c, query: query}, nil
}

// Close releases the connection's engine reference.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.engine.Close()
}

// Begin always fails: there are no transactions.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx always fails: there are no transactions.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return nil, dberrors.NewUnsupported("transactions", "every statement is written through immediately")
}

// Ping verifies the connection is still open.
func (c *Conn) Ping(ctx context.Context) error {
	return c.check()
}

// ExecContext runs every statement in query.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if len(args) > 0 {
		return nil, errNoArgs
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	res, err := c.engine.Exec(ctx, query)
	if err != nil {
		return nil, err
	}
	return Result{rowsAffected: res.RowsAffected, lastInsertID: res.LastInsertID}, nil
}

// QueryContext runs a single statement and streams its rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if len(args) > 0 {
		return nil, errNoArgs
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	rows, err := c.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows, ctx: ctx}, nil
}

// Stmt implements database/sql/driver.Stmt over a parsed query.
type Stmt struct {
	conn  *Conn
	query string
}

// Close is a no-op; statements hold no resources.
func (s *Stmt) Close() error {
	return nil
}

// NumInput returns 0: statements take no arguments.
func (s *Stmt) NumInput() int {
	return 0
}

// Exec executes the statement.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), nil)
}

// ExecContext executes the statement.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

// Query executes the statement and returns its rows.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), nil)
}

// QueryContext executes the statement and returns its rows.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

// Result implements database/sql/driver.Result.
type Result struct {
	rowsAffected int64
	lastInsertID int64
}

// LastInsertId returns the row id of the last inserted row.
func (r Result) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

// RowsAffected returns the number of inserted rows.
func (r Result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// Rows implements database/sql/driver.Rows.
type Rows struct {
	rows *engine.Rows
	ctx  context.Context
}

// Columns returns the column names.
func (r *Rows) Columns() []string {
	return r.rows.Columns()
}

// Close stops the query.
func (r *Rows) Close() error {
	return r.rows.Close()
}

// Next fills dest with the next row.
func (r *Rows) Next(dest []driver.Value) error {
	row, err := r.rows.Next(r.ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	fill(dest, row)
	return nil
}

// fill converts VM values to driver values: nil, int64 or string.
func fill(dest []driver.Value, row vdbe.Row) {
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i].Any()
		} else {
			dest[i] = nil
		}
	}
}
