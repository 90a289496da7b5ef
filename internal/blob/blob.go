// Package blob abstracts the object store that holds raw archives and pipeline output.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("blob: not found")

// Store reads and writes byte blobs by slash-separated key.
type Store interface {
	// Get opens the blob at key. Returns ErrNotFound (possibly wrapped) if absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes r to key, replacing any existing blob. size may be -1 if unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// List returns every key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// ListPrefixes returns the names of the immediate child "directories" of prefix.
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
}

// ContentType returns the MIME type used when uploading key.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// dirPrefix ensures a non-empty prefix ends with a slash.
func dirPrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
