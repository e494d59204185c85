package usm

import (
	"context"
	"io"
)

// Transport moves export snapshots onto network media (or staging storage
// for physical media). Keys are slash-separated, archive-relative paths,
// e.g. "2026/Jan/9/store-20260109.bak".
// All operations stream through io.Reader/io.Writer so multi-gigabyte
// artifacts never need to fit in memory.
type Transport interface {
	// Name returns the configured transport name, for logs and reports.
	Name() string

	// Put stores an object under key. size is the number of bytes that will
	// be read from r.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get retrieves the object under key and writes it to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Validate verifies that the transport target is accessible.
	Validate(ctx context.Context) error
}
