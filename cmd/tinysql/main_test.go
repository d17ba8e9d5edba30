package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI runs the command line with stdin and returns stdout, stderr and
// the exit code.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &IO{In: strings.NewReader(stdin), Out: &out, Err: &errOut})
	return out.String(), errOut.String(), code
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, code := runCLI(t, "", args...)
	if code != 0 {
		t.Fatalf("tinysql %v exited %d: %s", args, code, errOut)
	}
	return out
}

func TestExec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e.db")
	mustRun(t, "exec", path,
		"CREATE TABLE users(id INT, name TEXT, email TEXT)",
		"INSERT INTO users VALUES (1,'fred','fred@x.com'); INSERT INTO users (name) VALUES ('wilma')")

	got := mustRun(t, "exec", "--header", path, "SELECT * FROM users")
	want := "id|name|email\n1|fred|fred@x.com\n2|wilma|\n"
	if got != want {
		t.Errorf("exec output = %q, want %q", got, want)
	}
}

func TestExecError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e.db")
	_, errOut, code := runCLI(t, "", "exec", path, "SELECT * FROM missing")
	if code != 1 || !strings.Contains(errOut, "no such table: missing") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestUsageError(t *testing.T) {
	_, errOut, code := runCLI(t, "", "frobnicate")
	if code != 2 || errOut == "" {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestPageSizeFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.db")
	mustRun(t, "--page-size", "512", "exec", path, "CREATE TABLE t(id INT)")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 1024 {
		t.Errorf("file size = %d, want two 512-byte pages", info.Size())
	}

	t.Setenv("TINYSQL_PAGE_SIZE", "512")
	if out := mustRun(t, "tables", path); !strings.HasPrefix(out, "t (root 1): CREATE TABLE t(id INT)") {
		t.Errorf("tables output = %q", out)
	}
}

func TestShell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.db")
	input := strings.Join([]string{
		"CREATE TABLE t(id INT,",
		"  v TEXT);",
		"INSERT INTO t VALUES (1, 'a'), (2, 'b');",
		".header on",
		"SELECT v FROM t WHERE id = 2;",
		"SELECT * FROM nope;",
		".tables",
		".bogus",
		".quit",
		"SELECT * FROM t;",
	}, "\n")
	out, errOut, code := runCLI(t, input, "shell", path)
	if code != 0 {
		t.Fatalf("shell exited %d: %s", code, errOut)
	}
	for _, want := range []string{
		"   ...> ",
		"v\nb\n",
		"error: invalid input: no such table: nope",
		"t (root 1): CREATE TABLE t(id INT,\n  v TEXT)",
		"unknown command .bogus",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("shell output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "1|a") {
		t.Error("statement after .quit ran")
	}
}

func TestShellRunsTrailingStatement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.db")
	out, _, code := runCLI(t, "CREATE TABLE t(id INT); INSERT INTO t VALUES (5);\nSELECT id FROM t", "shell", path)
	if code != 0 || !strings.Contains(out, "5\n") {
		t.Errorf("exit %d, output %q", code, out)
	}
}

func TestPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.db")
	mustRun(t, "exec", path, "CREATE TABLE t(id INT); INSERT INTO t VALUES (1)")

	text := mustRun(t, "pages", path)
	if !strings.Contains(text, "2 pages of 4096 bytes") || !strings.Contains(text, "PAGE") {
		t.Errorf("pages output = %q", text)
	}

	var report struct {
		Pages []struct {
			Kind   string `json:"kind"`
			Cells  int    `json:"cells"`
			BLAKE3 string `json:"blake3"`
		} `json:"pages"`
	}
	if err := json.Unmarshal([]byte(mustRun(t, "pages", "--json", path)), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Pages) != 2 || report.Pages[1].Cells != 1 || len(report.Pages[1].BLAKE3) != 64 {
		t.Errorf("pages --json = %+v", report)
	}
}

func TestBackupRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.db")
	snap := filepath.Join(dir, "b.db.xz")
	dst := filepath.Join(dir, "restored.db")
	mustRun(t, "exec", path, "CREATE TABLE t(id INT, v TEXT); INSERT INTO t VALUES (1, 'kept')")

	if out := mustRun(t, "backup", path, snap); !strings.Contains(out, "2 pages") {
		t.Errorf("backup output = %q", out)
	}
	mustRun(t, "restore", snap, dst)
	if got := mustRun(t, "exec", dst, "SELECT v FROM t"); got != "kept\n" {
		t.Errorf("restored rows = %q", got)
	}

	if _, _, code := runCLI(t, "", "restore", snap, dst); code != 1 {
		t.Errorf("restore over existing file exited %d, want 1", code)
	}
	mustRun(t, "restore", "--force", snap, dst)

	_, errOut, code := runCLI(t, "", "restore", "--force", path, dst)
	if code != 1 || !strings.Contains(errOut, "unexpected file type") {
		t.Errorf("restore of a database file = (%d, %q)", code, errOut)
	}
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "i.db")
	xmlPath := filepath.Join(dir, "people.xml")
	if err := os.WriteFile(xmlPath, []byte(`<people><p n="1">Ann</p><p n="2">Bo</p></people>`), 0644); err != nil {
		t.Fatal(err)
	}
	mustRun(t, "exec", path, "CREATE TABLE people(id INT, name TEXT)")

	out := mustRun(t, "import", path, "--table", "people", "--xml", xmlPath, "--rows", "//p", "--cols", "id=@n,name=.")
	if out != "imported 2 rows into people\n" {
		t.Errorf("import output = %q", out)
	}
	if got := mustRun(t, "exec", path, "SELECT * FROM people"); got != "1|Ann\n2|Bo\n" {
		t.Errorf("imported rows = %q", got)
	}

	_, errOut, code := runCLI(t, "", "import", path, "--table", "people", "--xml", path, "--rows", "//p", "--cols", "id")
	if code != 1 || !strings.Contains(errOut, "unexpected file type") {
		t.Errorf("import of a non-XML file = (%d, %q)", code, errOut)
	}
}

func TestVersion(t *testing.T) {
	if out := mustRun(t, "version"); out != "tinysql version "+version+"\n" {
		t.Errorf("version output = %q", out)
	}
}
