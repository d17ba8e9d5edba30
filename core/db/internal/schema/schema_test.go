package schema

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/tinysql/core/db/internal/btree"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	"github.com/FocuswithJustin/tinysql/core/db/internal/record"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

func openPager(t *testing.T) *pager.Pager {
	t.Helper()
	p, err := pager.OpenWithOptions(filepath.Join(t.TempDir(), "schema.db"), pager.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("OpenWithOptions() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func schemaTree(t *testing.T, p *pager.Pager) *btree.BTree {
	t.Helper()
	if err := Init(p); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	tree, err := btree.Open(p, RootPage)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestInit(t *testing.T) {
	p := openPager(t)
	if err := Init(p); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d after Init, want 1", p.Len())
	}
	// Second call is a no-op.
	if err := Init(p); err != nil || p.Len() != 1 {
		t.Fatalf("Init() again = %v, Len() = %d", err, p.Len())
	}

	s, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(s.Tables) != 0 {
		t.Errorf("Tables = %v, want none", s.Tables)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	p := openPager(t)
	rows, err := Rows(p)
	if err != nil || rows != nil {
		t.Errorf("Rows() = (%v, %v), want (nil, nil)", rows, err)
	}
}

func TestLoad(t *testing.T) {
	p := openPager(t)
	tree := schemaTree(t, p)

	users := Row{ID: 1, Type: TypeTable, Name: "users", TblName: "users", RootPage: 1,
		SQL: "CREATE TABLE users(id INT, name TEXT, email TEXT)"}
	posts := Row{ID: 2, Type: TypeTable, Name: "Posts", TblName: "Posts", RootPage: 2,
		SQL: "CREATE TABLE Posts(id INTEGER PRIMARY KEY, body TEXT)"}
	for _, r := range []Row{users, posts} {
		if err := tree.Insert(r.Record()); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := Rows(p)
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 2 || rows[0] != users || rows[1] != posts {
		t.Fatalf("Rows() = %+v", rows)
	}

	s, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	tbl, ok := s.Table("USERS")
	if !ok {
		t.Fatal(`Table("USERS") not found`)
	}
	if tbl.RootPage != 1 || tbl.ID != 1 {
		t.Errorf("users = %+v", tbl)
	}
	if got := tbl.ColumnNames(); len(got) != 3 || got[2] != "email" {
		t.Errorf("ColumnNames() = %v", got)
	}
	if tbl.ColumnIndex("Name") != 1 || tbl.ColumnIndex("missing") != -1 {
		t.Errorf("ColumnIndex() wrong")
	}

	if _, ok := s.Table("posts"); !ok {
		t.Error(`Table("posts") not found`)
	}
	if _, ok := s.Table("comments"); ok {
		t.Error(`Table("comments") found`)
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		rec  record.Record
	}{
		{"short row", record.Record{record.Integer(1), record.Text("table")}},
		{"integer name", record.Record{record.Integer(1), record.Text("table"), record.Integer(5),
			record.Text("t"), record.Integer(1), record.Text("CREATE TABLE t(id INT)")}},
		{"negative root", Row{ID: 1, Type: TypeTable, Name: "t", TblName: "t",
			SQL: "CREATE TABLE t(id INT)"}.Record()},
		{"bad sql", Row{ID: 1, Type: TypeTable, Name: "t", TblName: "t", RootPage: 1,
			SQL: "SELECT * FROM t"}.Record()},
	}
	// Patch the negative root case after encoding via Row.
	tests[2].rec[ColRootPage] = record.Integer(-4)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := openPager(t)
			tree := schemaTree(t, p)
			if err := tree.Insert(tt.rec); err != nil {
				t.Fatal(err)
			}
			_, err := Load(p)
			if !errors.Is(err, dberrors.ErrCorruptFile) {
				t.Errorf("Load() error = %v, want ErrCorruptFile", err)
			}
		})
	}
}
