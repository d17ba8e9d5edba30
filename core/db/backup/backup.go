// Package backup writes and restores xz-compressed snapshots of tinysql
// database files.
//
// A snapshot is an xz-compressed tar archive holding manifest.json
// followed by the raw database file. The manifest records the page size
// and a BLAKE3 digest of the file, checked on restore.
package backup

import (
	"archive/tar"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/tinysql/core/db/internal/page"
	"github.com/FocuswithJustin/tinysql/core/db/internal/pager"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Archive entry names
const (
	ManifestName = "manifest.json"
	DataName     = "data.db"
)

// Version is the snapshot format version.
const Version = 1

// Manifest describes a snapshot.
type Manifest struct {
	Version  int       `json:"version"`
	PageSize int       `json:"page_size"`
	Pages    int       `json:"pages"`
	BLAKE3   string    `json:"blake3"`
	Created  time.Time `json:"created"`
}

// Write snapshots the database at path into w. The file is opened
// read-only under a shared lock, so no writer can change it mid-copy.
func Write(w io.Writer, path string, pageSize int) (*Manifest, error) {
	p, err := pager.OpenWithOptions(path, pager.Options{PageSize: pageSize, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	// The digest goes in the manifest, which precedes the data, so the
	// pages are read twice.
	h := blake3.New()
	for n := range p.Len() {
		data, err := p.Read(n)
		if err != nil {
			return nil, err
		}
		h.Write(data)
	}
	m := &Manifest{
		Version:  Version,
		PageSize: p.PageSize(),
		Pages:    int(p.Len()),
		BLAKE3:   hex.EncodeToString(h.Sum(nil)),
		Created:  time.Now().UTC(),
	}

	xw, err := xz.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz writer: %w", err)
	}
	tw := tar.NewWriter(xw)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeEntry(tw, ManifestName, int64(len(manifest)), m.Created); err != nil {
		return nil, err
	}
	if _, err := tw.Write(manifest); err != nil {
		return nil, err
	}

	if err := writeEntry(tw, DataName, int64(m.Pages)*int64(m.PageSize), m.Created); err != nil {
		return nil, err
	}
	for n := range p.Len() {
		data, err := p.Read(n)
		if err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write page %d: %w", n, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := xw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish xz stream: %w", err)
	}
	return m, nil
}

func writeEntry(tw *tar.Writer, name string, size int64, mod time.Time) error {
	return tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    size,
		ModTime: mod,
		Format:  tar.FormatPAX,
	})
}

// Create snapshots the database at path into the file out.
func Create(path, out string, pageSize int) (*Manifest, error) {
	f, err := os.Create(out)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	m, err := Write(f, path, pageSize)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return nil, err
	}
	return m, nil
}

// Read restores a snapshot from r into the file dst. The data is written
// to a temporary file next to dst and renamed into place only after its
// digest and every page have been verified. An existing dst is replaced
// only when overwrite is set.
func Read(r io.Reader, dst string, overwrite bool) (*Manifest, error) {
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil, fmt.Errorf("%w: %s already exists", dberrors.ErrInvalidInput, dst)
		}
	}

	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz reader: %w", err)
	}
	tr := tar.NewReader(xr)

	hdr, err := tr.Next()
	if err != nil {
		return nil, corrupt(dst, "missing manifest: %v", err)
	}
	if hdr.Name != ManifestName {
		return nil, corrupt(dst, "first entry is %q, want %q", hdr.Name, ManifestName)
	}
	var m Manifest
	if err := json.NewDecoder(tr).Decode(&m); err != nil {
		return nil, corrupt(dst, "bad manifest: %v", err)
	}
	if m.Version != Version {
		return nil, dberrors.NewUnsupported("snapshot version", fmt.Sprintf("version %d", m.Version))
	}
	if !pager.IsValidPageSize(m.PageSize) {
		return nil, corrupt(dst, "invalid page size %d", m.PageSize)
	}

	hdr, err = tr.Next()
	if err != nil || hdr.Name != DataName {
		return nil, corrupt(dst, "missing %s", DataName)
	}
	if hdr.Size != int64(m.Pages)*int64(m.PageSize) {
		return nil, corrupt(dst, "%s is %d bytes, manifest says %d pages of %d", DataName, hdr.Size, m.Pages, m.PageSize)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return nil, dberrors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()
	if err := copyPages(tmp, tr, &m, dst); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return nil, dberrors.Wrap(err, "failed to rename restored file")
	}
	return &m, nil
}

// copyPages copies and verifies the pages of a snapshot.
func copyPages(w io.Writer, r io.Reader, m *Manifest, dst string) error {
	h := blake3.New()
	buf := make([]byte, m.PageSize)
	for n := range m.Pages {
		if _, err := io.ReadFull(r, buf); err != nil {
			return corrupt(dst, "page %d: %v", n, err)
		}
		if _, err := page.Parse(buf, uint32(n)); err != nil {
			return dberrors.NewCorrupt(dst, fmt.Sprintf("page %d: %v", n, err))
		}
		h.Write(buf)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != m.BLAKE3 {
		return corrupt(dst, "digest %s does not match manifest %s", sum, m.BLAKE3)
	}
	return nil
}

// Restore restores the snapshot file in into dst.
func Restore(in, dst string, overwrite bool) (*Manifest, error) {
	f, err := os.Open(in)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, dberrors.NewNotFound("snapshot", in)
		}
		return nil, err
	}
	defer f.Close()
	return Read(f, dst, overwrite)
}

func corrupt(path, format string, args ...any) error {
	return dberrors.NewCorrupt(path, fmt.Sprintf(format, args...))
}
