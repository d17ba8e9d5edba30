// Package errors provides the error kinds shared by the tinysql storage
// engine, its SQL front end and its tools.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a row, page or table was not found
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey indicates an insert with a row id that already exists
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrPageFull signals that a cell does not fit on a page. The B-tree
	// handles it by splitting; it is never returned from an insert.
	ErrPageFull = errors.New("page full")
	// ErrCorruptFile indicates the database file violates a format invariant
	ErrCorruptFile = errors.New("database file is corrupt")
	// ErrDecode indicates malformed record or page bytes
	ErrDecode = errors.New("decode error")
	// ErrRecordTooLarge indicates a record that cannot fit on an empty page
	ErrRecordTooLarge = errors.New("record too large for page")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupported indicates an unsupported operation or statement
	ErrUnsupported = errors.New("unsupported")
)

// NotFoundError represents a lookup failure with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "table", "page", "row")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// DuplicateKeyError reports the row id that collided on insert
type DuplicateKeyError struct {
	RowID int64  // Row id being inserted
	Page  uint32 // Leaf page holding the existing row
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: row id %d already exists on page %d", e.RowID, e.Page)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// CorruptError describes a violated file invariant
type CorruptError struct {
	Path    string // File path, if applicable
	Message string // What invariant was violated
}

func (e *CorruptError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("database file is corrupt: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("database file is corrupt: %s", e.Message)
}

func (e *CorruptError) Unwrap() error {
	return ErrCorruptFile
}

// ParseError represents a decoding failure of a page, record or statement
type ParseError struct {
	Format  string // Format being parsed (e.g., "record", "page", "sql")
	Offset  int    // Byte offset where parsing failed (-1 if unknown)
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("failed to parse %s at offset %d: %s", e.Format, e.Offset, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrDecode
}

// UnsupportedError represents an unsupported feature or statement
type UnsupportedError struct {
	Feature string // Feature that is unsupported
	Reason  string // Why it's not supported
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewCorrupt creates a CorruptError
func NewCorrupt(path, message string) *CorruptError {
	return &CorruptError{
		Path:    path,
		Message: message,
	}
}

// NewDecode creates a ParseError for binary decoding at a known offset
func NewDecode(format string, offset int, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Offset:  offset,
		Message: message,
	}
}

// NewSyntax creates a ParseError for SQL text, unwrapping to ErrInvalidInput
func NewSyntax(message string, err error) *ParseError {
	if err == nil {
		err = ErrInvalidInput
	}
	return &ParseError{
		Format:  "sql",
		Offset:  -1,
		Message: message,
		Err:     err,
	}
}

// NewUnsupported creates an UnsupportedError
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{
		Feature: feature,
		Reason:  reason,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}
