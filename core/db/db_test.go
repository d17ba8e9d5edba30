package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

func openTemp(t *testing.T, opts Options) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, path
}

func queryAll(t *testing.T, d *DB, sql string) [][]any {
	t.Helper()
	rows, err := d.Query(context.Background(), sql)
	if err != nil {
		t.Fatalf("Query(%q) error = %v", sql, err)
	}
	defer rows.Close()
	var out [][]any
	for row, err := range rows.All(context.Background()) {
		if err != nil {
			t.Fatalf("Query(%q) row error = %v", sql, err)
		}
		out = append(out, row)
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	d, _ := openTemp(t, Options{})
	ctx := context.Background()

	if _, err := d.Exec(ctx, "CREATE TABLE users(id INT, name TEXT, email TEXT)"); err != nil {
		t.Fatalf("CREATE error = %v", err)
	}
	if _, err := d.Exec(ctx, "INSERT INTO users VALUES (1,'fred','fred@x.com')"); err != nil {
		t.Fatalf("INSERT error = %v", err)
	}

	got := queryAll(t, d, "SELECT * FROM users")
	want := [][]any{{int64(1), "fred", "fred@x.com"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SELECT = %v, want %v", got, want)
	}

	tables, err := d.Tables()
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 {
		t.Fatalf("Tables() = %v", tables)
	}
	users := tables[0]
	if users.Name != "users" || users.RootPage != 1 || users.SQL != "CREATE TABLE users(id INT, name TEXT, email TEXT)" {
		t.Errorf("schema row = %+v", users)
	}
	if !reflect.DeepEqual(users.Columns, []string{"id", "name", "email"}) {
		t.Errorf("Columns = %v", users.Columns)
	}
}

func TestReopen(t *testing.T) {
	d, path := openTemp(t, Options{PageSize: 512})
	ctx := context.Background()
	if _, err := d.Exec(ctx, "CREATE TABLE t(id INTEGER PRIMARY KEY, body TEXT)"); err != nil {
		t.Fatal(err)
	}
	for i := range 300 {
		if _, err := d.Exec(ctx, fmt.Sprintf("INSERT INTO t (body) VALUES ('row %d')", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size()%512 != 0 {
		t.Errorf("file size %d is not a multiple of the page size", info.Size())
	}

	d2, err := Open(path, Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer d2.Close()
	if d2.Pages() < 3 {
		t.Errorf("Pages() = %d, want a split table", d2.Pages())
	}
	rows := queryAll(t, d2, "SELECT * FROM t")
	if len(rows) != 300 || rows[299][1] != "row 299" {
		t.Errorf("got %d rows after reopen", len(rows))
	}
}

func TestCacheStats(t *testing.T) {
	d, _ := openTemp(t, Options{CacheSize: 8})
	ctx := context.Background()
	if _, err := d.Exec(ctx, "CREATE TABLE t(id INT); INSERT INTO t VALUES (1)"); err != nil {
		t.Fatal(err)
	}
	queryAll(t, d, "SELECT * FROM t")
	if s := d.CacheStats(); s.Hits == 0 || s.MaxSize != 8 {
		t.Errorf("CacheStats() = %+v", s)
	}
}

func TestClosedDB(t *testing.T) {
	d, _ := openTemp(t, Options{})
	d.Close()
	if _, err := d.Exec(context.Background(), "CREATE TABLE t(id INT)"); err == nil {
		t.Error("Exec() on closed DB succeeded")
	}
	if _, err := d.Query(context.Background(), "SELECT * FROM t"); err == nil {
		t.Error("Query() on closed DB succeeded")
	}
}

func TestRowsNext(t *testing.T) {
	d, _ := openTemp(t, Options{})
	ctx := context.Background()
	if _, err := d.Exec(ctx, "CREATE TABLE t(id INT); INSERT INTO t VALUES (1)"); err != nil {
		t.Fatal(err)
	}
	rows, err := d.Query(ctx, "SELECT id FROM t")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	if row, err := rows.Next(ctx); err != nil || row[0] != int64(1) {
		t.Fatalf("Next() = (%v, %v)", row, err)
	}
	if _, err := rows.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestErrors(t *testing.T) {
	d, _ := openTemp(t, Options{})
	ctx := context.Background()
	if _, err := d.Exec(ctx, "CREATE TABLE t(id INT, v TEXT); INSERT INTO t VALUES (1, 'a')"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		sql  string
		want error
	}{
		{"INSERT INTO t VALUES (1, 'b')", dberrors.ErrDuplicateKey},
		{"INSERT INTO nope VALUES (1)", dberrors.ErrInvalidInput},
		{"DROP TABLE t", dberrors.ErrInvalidInput},
		{"CREATE TABLE t(id INT)", dberrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			if _, err := d.Exec(ctx, tt.sql); !errors.Is(err, tt.want) {
				t.Errorf("Exec() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecordTooLarge(t *testing.T) {
	d, _ := openTemp(t, Options{PageSize: 512})
	ctx := context.Background()
	if _, err := d.Exec(ctx, "CREATE TABLE t(id INT, v TEXT)"); err != nil {
		t.Fatal(err)
	}
	big := make([]byte, 600)
	for i := range big {
		big[i] = 'x'
	}
	_, err := d.Exec(ctx, fmt.Sprintf("INSERT INTO t VALUES (1, '%s')", big))
	if !errors.Is(err, dberrors.ErrRecordTooLarge) {
		t.Errorf("Exec() error = %v, want ErrRecordTooLarge", err)
	}
}

func TestSplit(t *testing.T) {
	got, err := Split("CREATE TABLE t(id INT);\n-- note\nINSERT INTO t VALUES (1);; SELECT * FROM t")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"CREATE TABLE t(id INT)", "INSERT INTO t VALUES (1)", "SELECT * FROM t"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
	if _, err := Split("SELECT FROM"); !errors.Is(err, dberrors.ErrInvalidInput) {
		t.Errorf("Split() error = %v, want ErrInvalidInput", err)
	}
}

func TestOpenSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sql.db")
	sdb, err := OpenSQL(path + "?page_size=1024")
	if err != nil {
		t.Fatal(err)
	}
	defer sdb.Close()
	if _, err := sdb.Exec("CREATE TABLE t(id INT, v TEXT); INSERT INTO t VALUES (5, 'five')"); err != nil {
		t.Fatal(err)
	}
	var v string
	if err := sdb.QueryRow("SELECT v FROM t WHERE id = 5").Scan(&v); err != nil || v != "five" {
		t.Errorf("QueryRow() = (%q, %v)", v, err)
	}
}

func Example() {
	dir, _ := os.MkdirTemp("", "tinysql-example")
	defer os.RemoveAll(dir)

	d, err := Open(filepath.Join(dir, "example.db"), Options{})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer d.Close()

	ctx := context.Background()
	d.Exec(ctx, "CREATE TABLE users(id INT, name TEXT, email TEXT)")
	res, _ := d.Exec(ctx, "INSERT INTO users (name, email) VALUES ('fred', 'fred@x.com'), ('wilma', NULL)")
	fmt.Println("inserted", res.RowsAffected, "last id", res.LastInsertID)

	rows, _ := d.Query(ctx, "SELECT * FROM users")
	defer rows.Close()
	fmt.Println(rows.Columns())
	for row, err := range rows.All(ctx) {
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(row...)
	}
	// Output:
	// inserted 2 last id 2
	// [id name email]
	// 1 fred fred@x.com
	// 2 wilma <nil>
}
