// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fruitsalade/lfs/internal/metrics"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// Backend stores objects as files under a root directory.
type Backend struct {
	rootPath   string
	createDirs bool
}

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && cfg.CreateDirs:
		if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
			return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{rootPath: cfg.RootPath, createDirs: cfg.CreateDirs}, nil
}

// NewFromJSON creates a Backend from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg)
}

func (b *Backend) fullPath(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.rootPath, clean), nil
}

// PutObject writes content atomically via a temp file and rename.
func (b *Backend) PutObject(_ context.Context, key string, body io.Reader, size int64) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStorageOperation("local", "put_object", time.Since(start), err == nil) }()

	path, err := b.fullPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if b.createDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".lfs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if size >= 0 && n != size {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: got %d bytes, want %d", key, n, size)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes a file and any directories it leaves empty.
func (b *Backend) DeleteObject(_ context.Context, key string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStorageOperation("local", "delete_object", time.Since(start), err == nil) }()

	path, err := b.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	for dir := filepath.Dir(path); dir != b.rootPath && strings.HasPrefix(dir, b.rootPath); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// ObjectExists checks if a regular file exists for key.
func (b *Backend) ObjectExists(_ context.Context, key string) (bool, error) {
	path, err := b.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// ListObjects walks the root and returns the keys of all regular files
// under prefix. Temp files from interrupted writes are skipped.
func (b *Backend) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".lfs-") && strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.rootPath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.rootPath, err)
	}
	return keys, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
