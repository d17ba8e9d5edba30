package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

func openEngine(t *testing.T, path string) *Engine {
	t.Helper()
	e, err := Open(path, Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return e
}

func collect(t *testing.T, rows *Rows) [][]any {
	t.Helper()
	var out [][]any
	ctx := context.Background()
	for {
		row, err := rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		vals := make([]any, len(row))
		for i, v := range row {
			vals[i] = v.Any()
		}
		out = append(out, vals)
	}
}

func TestExecAndQuery(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "e.db"))
	defer e.Close()
	ctx := context.Background()

	res, err := e.Exec(ctx, `
		CREATE TABLE users(id INT, name TEXT, email TEXT);
		INSERT INTO users VALUES (1, 'fred', 'fred@x.com');
		INSERT INTO users (name) VALUES ('wilma'), ('barney');
	`)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.RowsAffected != 3 || res.LastInsertID != 3 {
		t.Errorf("Exec() = %+v, want 3 rows, last id 3", res)
	}

	rows, err := e.Query(ctx, "SELECT id, name FROM users")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer rows.Close()
	if got := rows.Columns(); len(got) != 2 || got[1] != "name" {
		t.Errorf("Columns() = %v", got)
	}
	got := collect(t, rows)
	want := [][]any{{int64(1), "fred"}, {int64(2), "wilma"}, {int64(3), "barney"}}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := rows.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after end = %v, want io.EOF", err)
	}
}

func TestExecStopsAtFirstError(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "e.db"))
	defer e.Close()
	ctx := context.Background()

	res, err := e.Exec(ctx, `
		CREATE TABLE t(id INT);
		INSERT INTO t VALUES (1);
		INSERT INTO t VALUES (1);
		INSERT INTO t VALUES (2);
	`)
	if !errors.Is(err, dberrors.ErrDuplicateKey) {
		t.Fatalf("Exec() error = %v, want ErrDuplicateKey", err)
	}
	if res.RowsAffected != 1 {
		t.Errorf("RowsAffected = %d, want 1", res.RowsAffected)
	}

	rows, err := e.Query(ctx, "SELECT * FROM t")
	if err != nil {
		t.Fatal(err)
	}
	if got := collect(t, rows); len(got) != 1 {
		t.Errorf("rows = %v, want only id 1", got)
	}
}

func TestSharedHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a := openEngine(t, path)
	b, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if a.f != b.f {
		t.Fatal("Open() of the same path did not share the file")
	}
	if _, err := Open(path, Options{PageSize: 4096}); !errors.Is(err, dberrors.ErrInvalidInput) {
		t.Errorf("Open() with other page size error = %v, want ErrInvalidInput", err)
	}

	ctx := context.Background()
	if _, err := a.Exec(ctx, "CREATE TABLE t(id INT)"); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	// b still holds a reference.
	if _, err := b.Exec(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("Exec() on remaining handle error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := b.Exec(ctx, "INSERT INTO t VALUES (2)"); !errors.Is(err, ErrClosed) {
		t.Errorf("Exec() after last Close() error = %v, want ErrClosed", err)
	}

	// Reopening after the last close reads the file back.
	c := openEngine(t, path)
	defer c.Close()
	s, err := c.Schema()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Table("t"); !ok {
		t.Error("table t missing after reopen")
	}
	if c.PageSize() != 1024 || c.Pages() != 2 {
		t.Errorf("PageSize() = %d, Pages() = %d", c.PageSize(), c.Pages())
	}
}

func TestQueryContext(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "e.db"))
	defer e.Close()
	if _, err := e.Exec(context.Background(), "CREATE TABLE t(id INT); INSERT INTO t VALUES (1), (2)"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rows, err := e.Query(ctx, "SELECT * FROM t")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	if _, err := rows.Next(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := rows.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() after cancel = %v, want context.Canceled", err)
	}

	if _, err := e.Query(ctx, "SELECT * FROM t"); !errors.Is(err, context.Canceled) {
		t.Errorf("Query() with canceled ctx = %v", err)
	}
}

func TestQueryRejectsScripts(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "e.db"))
	defer e.Close()
	if _, err := e.Query(context.Background(), "SELECT * FROM a; SELECT * FROM b"); !errors.Is(err, dberrors.ErrInvalidInput) {
		t.Errorf("Query() error = %v, want ErrInvalidInput", err)
	}
}

func TestPartialInsertCounts(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "e.db"))
	defer e.Close()
	ctx := context.Background()
	if _, err := e.Exec(ctx, "CREATE TABLE t(id INT, v TEXT); INSERT INTO t VALUES (3, 'c')"); err != nil {
		t.Fatal(err)
	}

	res, err := e.Exec(ctx, "INSERT INTO t VALUES (1, 'a'), (2, 'b'), (3, 'dup')")
	if !errors.Is(err, dberrors.ErrDuplicateKey) {
		t.Fatalf("Exec() error = %v, want ErrDuplicateKey", err)
	}
	if res.RowsAffected != 2 || res.LastInsertID != 2 {
		t.Errorf("Exec() = %+v, want 2 rows, last id 2", res)
	}

	rows, err := e.Query(ctx, "SELECT id FROM t")
	if err != nil {
		t.Fatal(err)
	}
	if got := collect(t, rows); len(got) != 3 {
		t.Errorf("rows = %v, want ids 1, 2, 3", got)
	}
}

func TestReadOnlyHandleOnWritableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	rw := openEngine(t, path)
	defer rw.Close()
	ctx := context.Background()
	if _, err := rw.Exec(ctx, "CREATE TABLE t(id INT); INSERT INTO t VALUES (1)"); err != nil {
		t.Fatal(err)
	}

	ro, err := Open(path, Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only Open() error = %v", err)
	}
	defer ro.Close()
	if !ro.ReadOnly() || rw.ReadOnly() {
		t.Errorf("ReadOnly() = %v for ro, %v for rw", ro.ReadOnly(), rw.ReadOnly())
	}

	for _, sql := range []string{"INSERT INTO t VALUES (2)", "CREATE TABLE u(id INT)"} {
		res, err := ro.Exec(ctx, sql)
		if !errors.Is(err, pager.ErrReadOnly) || res.RowsAffected != 0 {
			t.Errorf("Exec(%q) on read-only handle = (%+v, %v), want pager.ErrReadOnly", sql, res, err)
		}
		if _, err := ro.Query(ctx, sql); !errors.Is(err, pager.ErrReadOnly) {
			t.Errorf("Query(%q) on read-only handle error = %v, want pager.ErrReadOnly", sql, err)
		}
	}

	rows, err := ro.Query(ctx, "SELECT id FROM t")
	if err != nil {
		t.Fatal(err)
	}
	if got := collect(t, rows); len(got) != 1 {
		t.Errorf("rows = %v, want only id 1", got)
	}
	if _, err := rw.Exec(ctx, "INSERT INTO t VALUES (2)"); err != nil {
		t.Errorf("Exec() on writable handle error = %v", err)
	}
}

func TestQuerySeesConcurrentInserts(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "e.db"))
	defer e.Close()
	ctx := context.Background()
	if _, err := e.Exec(ctx, "CREATE TABLE t(id INT, v TEXT)"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		if _, err := e.Exec(ctx, fmt.Sprintf("INSERT INTO t VALUES (%d, 'first')", i)); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := e.Query(ctx, "SELECT id FROM t")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	if _, err := rows.Next(ctx); err != nil {
		t.Fatal(err)
	}

	// Enough rows to split the leaf the query is reading.
	for i := 6; i <= 205; i++ {
		if _, err := e.Exec(ctx, fmt.Sprintf("INSERT INTO t VALUES (%d, 'row number %d')", i, i)); err != nil {
			t.Fatal(err)
		}
	}

	got := collect(t, rows)
	if len(got) != 204 {
		t.Fatalf("read %d more rows, want 204", len(got))
	}
	for i, row := range got {
		if row[0] != int64(i+2) {
			t.Fatalf("row %d id = %v, want %d", i, row[0], i+2)
		}
	}
}
