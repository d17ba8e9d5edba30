// Package validation checks user-supplied paths, identifiers and input
// files before they reach the database.
package validation

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode"

	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Limits on user input.
const (
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
	// MaxIdentifierLength is the maximum length of a table or column name.
	MaxIdentifierLength = 128
)

// Validation errors. All of them match dberrors.ErrInvalidInput.
var (
	ErrEmptyPath         = fmt.Errorf("%w: path cannot be empty", dberrors.ErrInvalidInput)
	ErrPathTooLong       = fmt.Errorf("%w: path too long", dberrors.ErrInvalidInput)
	ErrInvalidCharacter  = fmt.Errorf("%w: invalid character", dberrors.ErrInvalidInput)
	ErrInvalidIdentifier = fmt.Errorf("%w: invalid identifier", dberrors.ErrInvalidInput)
	ErrFileType          = fmt.Errorf("%w: unexpected file type", dberrors.ErrInvalidInput)
)

// ValidatePath rejects empty or overlong paths and paths containing null
// bytes or control characters.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	for _, r := range path {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("%w %q in path", ErrInvalidCharacter, r)
		}
	}
	return nil
}

// ValidateIdentifier reports whether name is a plain SQL identifier: an
// ASCII letter or underscore followed by letters, digits or underscores.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidIdentifier, name[:16]+"...", MaxIdentifierLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return nil
}

// FileType is the detected kind of an input file.
type FileType string

const (
	FileTypeXZ      FileType = "xz"
	FileTypeXML     FileType = "xml"
	FileTypeUnknown FileType = "unknown"
)

var xzMagic = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}

// DetectFileType sniffs the first bytes of r.
func DetectFileType(r io.Reader) (FileType, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]

	if bytes.HasPrefix(buf, xzMagic) {
		return FileTypeXZ, nil
	}
	text := bytes.TrimLeft(bytes.TrimPrefix(buf, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(text) > 0 && text[0] == '<' && isLikelyText(text) {
		return FileTypeXML, nil
	}
	return FileTypeUnknown, nil
}

// CheckFileType opens path and fails with ErrFileType unless its content
// is of type want.
func CheckFileType(path string, want FileType) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := DetectFileType(bufio.NewReader(f))
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s is %s, want %s", ErrFileType, path, got, want)
	}
	return nil
}

// isLikelyText reports whether buf looks like UTF-8 or ASCII text.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 || bytes.IndexByte(buf, 0) != -1 {
		return false
	}
	printable, control := 0, 0
	for _, b := range buf {
		switch {
		case b >= 0x20 && b <= 0x7e, b == '\t', b == '\n', b == '\r':
			printable++
		case b < 0x20:
			control++
		}
	}
	return printable > 0 && float64(printable)/float64(printable+control) > 0.95
}
