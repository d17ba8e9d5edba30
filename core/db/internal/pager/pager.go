package pager

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/FocuswithJustin/tinysql/core/cache"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Pgno is a 0-based page number.
type Pgno uint32

// Page size limits
const (
	DefaultPageSize = 4096
	MinPageSize     = 512
	MaxPageSize     = 65536

	// DefaultCacheSize is the number of pages cached when Options.CacheSize
	// is zero.
	DefaultCacheSize = 256
)

// Common errors
var (
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidPageNum  = errors.New("invalid page number")
	ErrClosed          = errors.New("pager is closed")
	ErrReadOnly        = errors.New("pager is read-only")
	ErrLocked          = errors.New("database is locked by another process")
)

// Options configures how a database file is opened.
type Options struct {
	// PageSize is the size of every page in bytes. Zero means DefaultPageSize.
	PageSize int

	// ReadOnly opens the file without write access and takes a shared lock.
	ReadOnly bool

	// NoLock skips the advisory file lock.
	NoLock bool

	// CacheSize is the number of pages kept in the read cache. Zero means
	// DefaultCacheSize; a negative value disables the cache.
	CacheSize int
}

// Pager reads and writes fixed-size pages of one database file.
type Pager struct {
	file     *os.File
	filename string
	pageSize int
	npages   Pgno
	readOnly bool
	locked   bool
	cache    *cache.LRU[Pgno, []byte]
	mu       sync.Mutex
}

// Open opens filename with default options, creating it if necessary.
func Open(filename string) (*Pager, error) {
	return OpenWithOptions(filename, Options{})
}

// OpenWithOptions opens a database file using opts.
func OpenWithOptions(filename string, opts Options) (*Pager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if !IsValidPageSize(pageSize) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}

	p := &Pager{
		filename: filename,
		pageSize: pageSize,
		readOnly: opts.ReadOnly,
	}
	switch {
	case opts.CacheSize == 0:
		p.cache = cache.New[Pgno, []byte](cache.Config{MaxSize: DefaultCacheSize})
	case opts.CacheSize > 0:
		p.cache = cache.New[Pgno, []byte](cache.Config{MaxSize: opts.CacheSize})
	}

	var err error
	if opts.ReadOnly {
		p.file, err = os.OpenFile(filename, os.O_RDONLY, 0)
	} else {
		p.file, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database file: %w", err)
	}

	if !opts.NoLock {
		if err := lockFile(p.file, !opts.ReadOnly); err != nil {
			p.file.Close()
			return nil, err
		}
		p.locked = true
	}

	info, err := p.file.Stat()
	if err != nil {
		p.closeFile()
		return nil, fmt.Errorf("failed to stat database file: %w", err)
	}

	size := info.Size()
	if size%int64(pageSize) != 0 {
		p.closeFile()
		return nil, dberrors.NewCorrupt(filename,
			fmt.Sprintf("size %d is not a multiple of page size %d", size, pageSize))
	}
	p.npages = Pgno(size / int64(pageSize))

	return p, nil
}

// IsValidPageSize reports whether size is a power of two in [MinPageSize, MaxPageSize].
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// Close releases the file lock and closes the file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}
	return p.closeFile()
}

func (p *Pager) closeFile() error {
	if p.locked {
		unlockFile(p.file)
		p.locked = false
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// Len returns the number of pages in the file.
func (p *Pager) Len() Pgno {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.npages
}

// Filename returns the path the pager was opened with.
func (p *Pager) Filename() string {
	return p.filename
}

// IsReadOnly returns true if the pager is read-only.
func (p *Pager) IsReadOnly() bool {
	return p.readOnly
}

// Allocate appends a zero-filled page to the file and returns its number.
func (p *Pager) Allocate() (Pgno, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, ErrClosed
	}
	if p.readOnly {
		return 0, ErrReadOnly
	}

	pgno := p.npages
	if err := p.writeLocked(pgno, make([]byte, p.pageSize)); err != nil {
		return 0, err
	}
	return pgno, nil
}

// Read returns a copy of page pgno. Pages beyond the end of the file read
// as zeros; the file is not extended.
func (p *Pager) Read(pgno Pgno) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil, ErrClosed
	}

	if p.cache != nil {
		if data, ok := p.cache.Get(pgno); ok {
			return bytes.Clone(data), nil
		}
	}

	data := make([]byte, p.pageSize)
	if pgno >= p.npages {
		return data, nil
	}

	offset := int64(pgno) * int64(p.pageSize)
	n, err := p.file.ReadAt(data, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == p.pageSize) {
		return nil, fmt.Errorf("failed to read page %d: %w", pgno, err)
	}
	if p.cache != nil {
		p.cache.Put(pgno, bytes.Clone(data))
	}
	return data, nil
}

// CacheStats returns read cache statistics. All counts are zero when the
// cache is disabled.
func (p *Pager) CacheStats() cache.Stats {
	if p.cache == nil {
		return cache.Stats{}
	}
	return p.cache.Stats()
}

// Write stores data as page pgno and syncs the file before returning.
func (p *Pager) Write(pgno Pgno, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return ErrClosed
	}
	if p.readOnly {
		return ErrReadOnly
	}
	if len(data) != p.pageSize {
		return fmt.Errorf("%w: page %d is %d bytes, want %d", ErrInvalidPageSize, pgno, len(data), p.pageSize)
	}
	return p.writeLocked(pgno, data)
}

// writeLocked writes a page with the lock already held.
func (p *Pager) writeLocked(pgno Pgno, data []byte) error {
	if pgno == ^Pgno(0) {
		return ErrInvalidPageNum
	}

	offset := int64(pgno) * int64(p.pageSize)
	if _, err := p.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write page %d: %w", pgno, err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync page %d: %w", pgno, err)
	}

	if p.cache != nil {
		p.cache.Put(pgno, bytes.Clone(data))
	}

	// Writing past the end fills any gap with zeros
	if pgno >= p.npages {
		p.npages = pgno + 1
	}
	return nil
}
