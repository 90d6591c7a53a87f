package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fruitsalade/lfs/internal/storage/local"
	s3backend "github.com/fruitsalade/lfs/internal/storage/s3"
)

// NewBackendFromConfig creates a Backend from a backend type string and
// JSON config.
func NewBackendFromConfig(ctx context.Context, backendType string, config json.RawMessage) (Backend, error) {
	switch backendType {
	case "s3":
		return s3backend.NewBackendFromJSON(ctx, config)
	case "local":
		return local.NewFromJSON(config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}

// ConfigForDest builds a minimal JSON config when only a destination was
// given: a directory for "local", an s3://bucket/prefix URL for "s3".
func ConfigForDest(backendType, dest string) (json.RawMessage, error) {
	switch backendType {
	case "local":
		return json.Marshal(local.Config{RootPath: dest, CreateDirs: true})
	case "s3":
		cfg, err := s3backend.ParseURL(dest)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}
