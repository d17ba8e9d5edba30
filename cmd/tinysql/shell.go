package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/FocuswithJustin/tinysql/core/db"
)

// ShellCmd runs an interactive SQL shell.
type ShellCmd struct {
	File   string `arg:"" help:"Database file" type:"path"`
	Header bool   `help:"Print column names before rows"`
}

const shellHelp = `.header on|off  toggle column names
.tables         list tables
.help           show this message
.quit           exit
Statements end with ";" and may span lines.
`

func (c *ShellCmd) Run(g *Globals, stdio *IO) error {
	d, err := g.open(c.File, false)
	if err != nil {
		return err
	}
	defer d.Close()

	p := &printer{out: stdio.Out, header: c.Header}
	ctx := context.Background()
	sc := bufio.NewScanner(stdio.In)
	sc.Buffer(make([]byte, 64*1024), 16<<20)

	var buf strings.Builder
	prompt := func() {
		if buf.Len() == 0 {
			fmt.Fprint(stdio.Out, "tinysql> ")
		} else {
			fmt.Fprint(stdio.Out, "   ...> ")
		}
	}

	prompt()
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if buf.Len() == 0 && strings.HasPrefix(trimmed, ".") {
			if quit := c.dot(trimmed, d, p, stdio.Out); quit {
				return nil
			}
			prompt()
			continue
		}

		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			p.reportErr(p.script(ctx, d, buf.String()))
			buf.Reset()
		}
		prompt()
	}
	if strings.TrimSpace(buf.String()) != "" {
		p.reportErr(p.script(ctx, d, buf.String()))
	}
	fmt.Fprintln(stdio.Out)
	return sc.Err()
}

// dot runs a shell command. It reports whether the shell should exit.
func (c *ShellCmd) dot(cmd string, d *db.DB, p *printer, out io.Writer) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ".quit", ".exit":
		return true
	case ".help":
		fmt.Fprint(out, shellHelp)
	case ".tables":
		p.reportErr(printTables(out, d))
	case ".header", ".headers":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			fmt.Fprintln(out, "usage: .header on|off")
			break
		}
		p.header = fields[1] == "on"
	default:
		fmt.Fprintf(out, "unknown command %s; try .help\n", fields[0])
	}
	return false
}

// printer writes query results one row per line with values separated
// by "|". NULL prints as an empty value.
type printer struct {
	out    io.Writer
	header bool
}

// script runs every statement of sql, printing rows as they arrive. It
// stops at the first failing statement.
func (p *printer) script(ctx context.Context, d *db.DB, sql string) error {
	stmts, err := db.Split(sql)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if err := p.query(ctx, d, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) query(ctx context.Context, d *db.DB, sql string) error {
	rows, err := d.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols := rows.Columns()
	if p.header && len(cols) > 0 {
		fmt.Fprintln(p.out, strings.Join(cols, "|"))
	}
	for row, err := range rows.All(ctx) {
		if err != nil {
			return err
		}
		vals := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				vals[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(p.out, strings.Join(vals, "|"))
	}
	return nil
}

func (p *printer) reportErr(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "error: %v\n", err)
	}
}
