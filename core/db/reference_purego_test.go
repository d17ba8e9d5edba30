//go:build !cgo_sqlite

package db

import (
	_ "modernc.org/sqlite" // pure Go reference engine
)

const referenceDriver = "sqlite"
