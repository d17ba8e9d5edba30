//go:build cgo_sqlite

// Build with: CGO_ENABLED=1 go test -tags cgo_sqlite
package db

import (
	_ "github.com/mattn/go-sqlite3" // CGO reference engine
)

const referenceDriver = "sqlite3"
