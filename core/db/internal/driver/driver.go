// Package driver registers tinysql with database/sql.
//
// The data source name is a file path with optional query parameters:
//
//	/var/lib/app/data.db?page_size=8192&cache_size=1024&mode=ro
//
// page_size must match the file; cache_size sets the number of cached
// pages (negative disables caching); mode=ro opens the file read-only.
// Connections to the same file share one engine handle, so a pool of
// connections never takes the file lock twice.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/tinysql/core/db/internal/engine"
	dberrors "github.com/FocuswithJustin/tinysql/core/errors"
)

// Name is the name the driver is registered under.
const Name = "tinysql"

// Driver implements database/sql/driver.Driver.
type Driver struct{}

func init() {
	sql.Register(Name, &Driver{})
}

// Open opens a connection to the database named by dsn.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses dsn once for every connection of a pool.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	path, opts, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &Connector{driver: d, path: path, opts: opts}, nil
}

// ParseDSN splits a data source name into a path and engine options.
func ParseDSN(dsn string) (string, engine.Options, error) {
	var opts engine.Options
	path, query, _ := strings.Cut(dsn, "?")
	if path == "" || path == ":memory:" {
		return "", opts, dberrors.NewUnsupported("data source", "in-memory databases are not supported")
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return "", opts, fmt.Errorf("%w: dsn %q: %v", dberrors.ErrInvalidInput, dsn, err)
	}
	for key, vals := range params {
		val := vals[len(vals)-1]
		switch key {
		case "page_size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return "", opts, fmt.Errorf("%w: page_size %q", dberrors.ErrInvalidInput, val)
			}
			opts.PageSize = n
		case "cache_size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return "", opts, fmt.Errorf("%w: cache_size %q", dberrors.ErrInvalidInput, val)
			}
			opts.CacheSize = n
		case "mode":
			switch val {
			case "ro":
				opts.ReadOnly = true
			case "rw", "rwc":
			default:
				return "", opts, fmt.Errorf("%w: mode %q", dberrors.ErrInvalidInput, val)
			}
		default:
			return "", opts, fmt.Errorf("%w: unknown dsn parameter %q", dberrors.ErrInvalidInput, key)
		}
	}
	return path, opts, nil
}

// Connector opens connections for one data source.
type Connector struct {
	driver *Driver
	path   string
	opts   engine.Options
}

// Connect opens a connection, sharing the file's engine handle.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := engine.Open(c.path, c.opts)
	if err != nil {
		return nil, err
	}
	return &Conn{engine: e}, nil
}

// Driver returns the driver the connector belongs to.
func (c *Connector) Driver() driver.Driver {
	return c.driver
}
