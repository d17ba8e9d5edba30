/*
Package pager maps a single database file onto fixed-size pages.

The pager is the lowest layer of the tinysql storage engine. It owns the
open file handle and knows nothing about what a page contains; the B-tree
layer above it serializes pages and hands raw page-size buffers down.

# File Layout

The file is a flat array of pages. Page N (0-based) lives at byte offset
N * PageSize. There is no file header: page 0 is the root of the schema
tree. A file whose length is not an exact multiple of the page size is
reported as corrupt when it is opened.

# I/O Model

Reads go through an LRU page cache (Options.CacheSize pages, 256 by
default, disabled when negative); there is no write buffering:
  - Read returns a private copy of the page, from the cache or from the
    file; a page past the end of the file reads as zeros and does not
    grow the file
  - Write writes one page, calls fsync, then refreshes the cached copy
  - Allocate appends a zero-filled page and returns its number

CacheStats reports cache hits, misses and evictions.

A completed Write is durable. Nothing stronger is promised: there is no
journal and no rollback.

# Ownership

On unix systems Open takes an exclusive advisory lock (flock) on the file
so two processes cannot write the same database. The lock is released by
Close. Within one process a single Pager may be shared by many B-trees and
cursors; the engine never has concurrent writers.
*/
package pager
