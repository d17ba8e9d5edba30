// Command tinysql is the command-line tool for tinysql database files.
// It runs SQL, inspects pages, takes and restores snapshots, imports XML
// and serves a database over WebSocket.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/tinysql/core/db"
	"github.com/FocuswithJustin/tinysql/core/db/backup"
	"github.com/FocuswithJustin/tinysql/core/db/inspect"
	"github.com/FocuswithJustin/tinysql/internal/logging"
	"github.com/FocuswithJustin/tinysql/internal/server"
	"github.com/FocuswithJustin/tinysql/internal/validation"
	"github.com/FocuswithJustin/tinysql/internal/xmlimport"
)

const version = "0.1.0"

// Globals are the flags shared by every command.
type Globals struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" enum:"debug,info,warn,error" default:"warn" env:"TINYSQL_LOG_LEVEL"`
	LogFormat string `name:"log-format" help:"Log format (text, json)" enum:"text,json" default:"text" env:"TINYSQL_LOG_FORMAT"`
	PageSize  int    `name:"page-size" help:"Page size of the database file" default:"4096" env:"TINYSQL_PAGE_SIZE"`
}

// IO carries the streams commands read from and write to.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// CLI defines the command-line interface for tinysql.
type CLI struct {
	Globals

	Shell   ShellCmd   `cmd:"" help:"Interactive SQL shell"`
	Exec    ExecCmd    `cmd:"" help:"Run SQL statements and print their rows"`
	Tables  TablesCmd  `cmd:"" help:"List tables and their CREATE statements"`
	Pages   PagesCmd   `cmd:"" help:"Dump page headers with BLAKE3 digests"`
	Backup  BackupCmd  `cmd:"" help:"Write an xz-compressed snapshot"`
	Restore RestoreCmd `cmd:"" help:"Restore a snapshot"`
	Import  ImportCmd  `cmd:"" help:"Import rows from an XML document"`
	Serve   ServeCmd   `cmd:"" help:"Serve the database over WebSocket"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

func (g *Globals) open(path string, readOnly bool) (*db.DB, error) {
	if err := validation.ValidatePath(path); err != nil {
		return nil, err
	}
	return db.Open(path, db.Options{PageSize: g.PageSize, ReadOnly: readOnly})
}

// ExecCmd runs SQL against a database file.
type ExecCmd struct {
	File   string   `arg:"" help:"Database file" type:"path"`
	SQL    []string `arg:"" help:"SQL scripts to run in order"`
	Header bool     `help:"Print column names before rows"`
}

func (c *ExecCmd) Run(g *Globals, stdio *IO) error {
	d, err := g.open(c.File, false)
	if err != nil {
		return err
	}
	defer d.Close()

	p := &printer{out: stdio.Out, header: c.Header}
	for _, script := range c.SQL {
		if err := p.script(context.Background(), d, script); err != nil {
			return err
		}
	}
	return nil
}

// TablesCmd lists the schema.
type TablesCmd struct {
	File string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *TablesCmd) Run(g *Globals, stdio *IO) error {
	d, err := g.open(c.File, true)
	if err != nil {
		return err
	}
	defer d.Close()
	return printTables(stdio.Out, d)
}

func printTables(w io.Writer, d *db.DB) error {
	tables, err := d.Tables()
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Fprintf(w, "%s (root %d): %s\n", t.Name, t.RootPage, t.SQL)
	}
	return nil
}

// PagesCmd dumps the page layout.
type PagesCmd struct {
	File string `arg:"" help:"Database file" type:"existingfile"`
	JSON bool   `help:"Write JSON instead of a table"`
}

func (c *PagesCmd) Run(g *Globals, stdio *IO) error {
	r, err := inspect.File(c.File, g.PageSize)
	if err != nil {
		return err
	}
	if c.JSON {
		return r.WriteJSON(stdio.Out)
	}
	return r.WriteText(stdio.Out)
}

// BackupCmd snapshots a database file.
type BackupCmd struct {
	File string `arg:"" help:"Database file" type:"existingfile"`
	Out  string `arg:"" help:"Snapshot path (.xz)" type:"path"`
}

func (c *BackupCmd) Run(g *Globals, stdio *IO) error {
	m, err := backup.Create(c.File, c.Out, g.PageSize)
	if err != nil {
		return err
	}
	logging.Info("backup written", "file", c.File, "out", c.Out, "pages", m.Pages)
	fmt.Fprintf(stdio.Out, "%s: %d pages, blake3 %s\n", c.Out, m.Pages, m.BLAKE3)
	return nil
}

// RestoreCmd restores a snapshot.
type RestoreCmd struct {
	In    string `arg:"" help:"Snapshot path" type:"existingfile"`
	File  string `arg:"" help:"Database file to create" type:"path"`
	Force bool   `short:"f" help:"Replace an existing file"`
}

func (c *RestoreCmd) Run(stdio *IO) error {
	if err := validation.CheckFileType(c.In, validation.FileTypeXZ); err != nil {
		return err
	}
	m, err := backup.Restore(c.In, c.File, c.Force)
	if err != nil {
		return err
	}
	logging.Info("backup restored", "in", c.In, "file", c.File, "pages", m.Pages)
	fmt.Fprintf(stdio.Out, "%s: %d pages of %d bytes\n", c.File, m.Pages, m.PageSize)
	return nil
}

// ImportCmd loads rows from XML.
type ImportCmd struct {
	File  string `arg:"" help:"Database file" type:"path"`
	Table string `required:"" help:"Target table"`
	XML   string `name:"xml" required:"" help:"XML document" type:"existingfile"`
	Rows  string `required:"" help:"XPath selecting one node per row"`
	Cols  string `required:"" help:"Columns as name or name=xpath, comma-separated"`
	Batch int    `help:"Rows per INSERT statement" default:"100"`
}

func (c *ImportCmd) Run(g *Globals, stdio *IO) error {
	if err := validation.CheckFileType(c.XML, validation.FileTypeXML); err != nil {
		return err
	}
	cols, err := xmlimport.ParseColumns(c.Cols)
	if err != nil {
		return err
	}
	f, err := os.Open(c.XML)
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := g.open(c.File, false)
	if err != nil {
		return err
	}
	defer d.Close()

	m := xmlimport.Mapping{Table: c.Table, Rows: c.Rows, Columns: cols}
	n, err := xmlimport.Import(context.Background(), d, f, m, c.Batch)
	fmt.Fprintf(stdio.Out, "imported %d rows into %s\n", n, c.Table)
	return err
}

// ServeCmd serves a database over WebSocket.
type ServeCmd struct {
	File    string   `arg:"" help:"Database file" type:"path"`
	Addr    string   `help:"Listen address" default:":8088" env:"TINYSQL_ADDR"`
	Origins []string `name:"origin" help:"Allowed Origin headers (* for any)" default:"*"`
	Rate    int      `help:"Statements per second per client (0 for no limit)" default:"50"`
}

func (c *ServeCmd) Run(g *Globals) error {
	d, err := g.open(c.File, false)
	if err != nil {
		return err
	}
	defer d.Close()

	cfg := server.DefaultConfig()
	cfg.AllowedOrigins = c.Origins
	cfg.MaxMessageRate = c.Rate

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.New(d, cfg).ListenAndServe(ctx, c.Addr)
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(stdio *IO) error {
	fmt.Fprintf(stdio.Out, "tinysql version %s\n", version)
	return nil
}

// run parses args and runs the selected command. It returns the process
// exit code.
func run(args []string, stdio *IO) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("tinysql"),
		kong.Description("tinysql - a single-file relational database"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Writers(stdio.Out, stdio.Err),
		kong.Bind(&cli.Globals, stdio),
	)
	if err != nil {
		fmt.Fprintln(stdio.Err, err)
		return 2
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	level, _ := logging.ParseLevel(cli.LogLevel)
	format, _ := logging.ParseFormat(cli.LogFormat)
	logging.InitLoggerTo(stdio.Err, level, format)

	if err := ctx.Run(); err != nil {
		fmt.Fprintf(stdio.Err, "tinysql: %s\n", strings.TrimSpace(err.Error()))
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], &IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}))
}
