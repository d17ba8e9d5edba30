// Package inspect reports the page layout of a tinysql database file.
//
// Every page gets a BLAKE3 digest of its raw bytes, so two dumps of the
// same file can be diffed to find exactly which pages a statement touched.
package inspect

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/tinysql/core/db/internal/page"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
)

// PageInfo describes one page.
type PageInfo struct {
	Number     uint32 `json:"number"`
	Kind       string `json:"kind"`
	Cells      int    `json:"cells"`
	FirstRowID int64  `json:"first_rowid,omitempty"`
	LastRowID  int64  `json:"last_rowid,omitempty"`
	RightChild uint32 `json:"right_child,omitempty"`
	Free       int    `json:"free"`
	BLAKE3     string `json:"blake3"`
	Error      string `json:"error,omitempty"`
}

// Report is the page dump of one file.
type Report struct {
	Path     string     `json:"path"`
	PageSize int        `json:"page_size"`
	BLAKE3   string     `json:"blake3"`
	Pages    []PageInfo `json:"pages"`
}

// File dumps every page of the database at path. The file is opened
// read-only. Pages that fail to parse are reported with Error set rather
// than aborting the dump.
func File(path string, pageSize int) (*Report, error) {
	p, err := pager.OpenWithOptions(path, pager.Options{PageSize: pageSize, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	r := &Report{Path: path, PageSize: p.PageSize()}
	file := blake3.New()
	for n := range p.Len() {
		data, err := p.Read(n)
		if err != nil {
			return nil, err
		}
		file.Write(data)
		r.Pages = append(r.Pages, describe(data, uint32(n)))
	}
	r.BLAKE3 = hex.EncodeToString(file.Sum(nil))
	return r, nil
}

func describe(data []byte, number uint32) PageInfo {
	sum := blake3.Sum256(data)
	info := PageInfo{Number: number, BLAKE3: hex.EncodeToString(sum[:])}

	pg, err := page.Parse(data, number)
	if err != nil {
		info.Kind = "invalid"
		info.Error = err.Error()
		return info
	}
	info.Kind = pg.Kind.String()
	info.Cells = len(pg.Cells)
	info.Free = pg.FreeSpace()
	info.RightChild = pg.RightChild
	if len(pg.Cells) > 0 {
		info.FirstRowID = pg.Cells[0].RowID
		info.LastRowID = pg.Cells[len(pg.Cells)-1].RowID
	}
	return info
}

// Changed returns the numbers of pages whose digest differs between r and
// other, including pages present in only one of them.
func (r *Report) Changed(other *Report) []uint32 {
	var out []uint32
	for i := range max(len(r.Pages), len(other.Pages)) {
		if i >= len(r.Pages) || i >= len(other.Pages) || r.Pages[i].BLAKE3 != other.Pages[i].BLAKE3 {
			out = append(out, uint32(i))
		}
	}
	return out
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes the report as an aligned table. Digests are shortened
// to 16 hex digits.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s: %d pages of %d bytes, blake3 %s\n", r.Path, len(r.Pages), r.PageSize, r.BLAKE3)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tKIND\tCELLS\tROWIDS\tRIGHT\tFREE\tBLAKE3")
	for _, pg := range r.Pages {
		if pg.Error != "" {
			fmt.Fprintf(tw, "%d\t%s\t\t\t\t\t%s\t%s\n", pg.Number, pg.Kind, pg.BLAKE3[:16], pg.Error)
			continue
		}
		rowids := "-"
		if pg.Cells > 0 {
			rowids = fmt.Sprintf("%d..%d", pg.FirstRowID, pg.LastRowID)
		}
		right := "-"
		if pg.Kind == page.KindInterior.String() {
			right = fmt.Sprint(pg.RightChild)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\t%s\n", pg.Number, pg.Kind, pg.Cells, rowids, right, pg.Free, pg.BLAKE3[:16])
	}
	return tw.Flush()
}
