package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/metrics"
	"github.com/fruitsalade/lfs/internal/storage"
	"github.com/fruitsalade/lfs/pkg/retry"
)

type fingerprint [blake2b.Size256]byte

// StoreSyncer mirrors the source into a storage.Backend. It uploads files
// whose BLAKE2b digest changed since the last run or whose object is gone
// from the backend, and deletes objects whose file disappeared.
type StoreSyncer struct {
	Backend storage.Backend
	Logger  *zap.Logger

	mu     sync.Mutex
	known  map[string]fingerprint
	seeded bool
}

// NewStoreSyncer creates a StoreSyncer writing to b.
func NewStoreSyncer(b storage.Backend) *StoreSyncer {
	return &StoreSyncer{
		Backend: b,
		Logger:  logging.Named("mirror.store"),
		known:   make(map[string]fingerprint),
	}
}

func (s *StoreSyncer) Name() string { return "store:" + s.Backend.Type() }

// Sync walks source once. Backend failures are returned as retryable;
// objects already handled in a failed run are not redone on the retry.
func (s *StoreSyncer) Sync(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.known == nil {
		s.known = make(map[string]fingerprint)
	}
	if !s.seeded {
		// Objects left over from an earlier process are unknown: a zero
		// fingerprint forces an upload if the file still exists and a
		// delete otherwise.
		keys, err := s.Backend.ListObjects(ctx, "")
		if err != nil {
			return retry.Retryable(fmt.Errorf("list existing objects: %w", err))
		}
		for _, k := range keys {
			s.known[k] = fingerprint{}
		}
		s.seeded = true
	}

	seen := make(map[string]struct{}, len(s.known))
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != source {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		seen[key] = struct{}{}
		return s.syncFile(ctx, key, path)
	})
	if err != nil {
		return err
	}

	for key := range s.known {
		if _, ok := seen[key]; ok {
			continue
		}
		if err := s.Backend.DeleteObject(ctx, key); err != nil {
			return retry.Retryable(err)
		}
		delete(s.known, key)
		metrics.RecordMirrorObject("deleted")
		s.Logger.Debug("deleted object", zap.String("key", key))
	}
	return nil
}

func (s *StoreSyncer) syncFile(ctx context.Context, key, path string) error {
	sum, err := hashFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if prev, ok := s.known[key]; ok && prev == sum {
		exists, err := s.Backend.ObjectExists(ctx, key)
		if err != nil {
			return retry.Retryable(fmt.Errorf("check %s: %w", key, err))
		}
		if exists {
			metrics.RecordMirrorObject("unchanged")
			return nil
		}
		s.Logger.Info("mirrored object missing, uploading again", zap.String("key", key))
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := s.Backend.PutObject(ctx, key, f, info.Size()); err != nil {
		return retry.Retryable(err)
	}
	s.known[key] = sum
	metrics.RecordMirrorObject("uploaded")
	s.Logger.Debug("uploaded object", zap.String("key", key), zap.Int64("size", info.Size()))
	return nil
}

func hashFile(path string) (fingerprint, error) {
	var sum fingerprint
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return sum, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return sum, fmt.Errorf("hash %s: %w", path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
