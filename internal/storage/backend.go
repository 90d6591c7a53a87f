// Package storage defines the object store the mirror copies the mounted
// tree into.
package storage

import (
	"context"
	"io"
)

// Backend is a flat key/value object store. Keys are slash-separated
// paths relative to the mount root.
type Backend interface {
	// PutObject stores size bytes from body under key, replacing any
	// previous object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists reports whether key is present.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// ListObjects returns every key under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
