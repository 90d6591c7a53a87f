// Package mount selects the FUSE library that serves the namespace.
package mount

import (
	"context"
	"fmt"

	"github.com/fruitsalade/lfs/internal/fuse"
	"github.com/fruitsalade/lfs/internal/hostfs"
	"github.com/fruitsalade/lfs/internal/namespace"
)

// Backend is the interface the go-fuse and cgofuse backends implement.
type Backend interface {
	// Start mounts ns and blocks until ctx is cancelled or the
	// filesystem is unmounted. ns reports itself mounted only while the
	// kernel is serving it.
	Start(ctx context.Context, ns *namespace.Namespace) error

	// Stop cleanly unmounts.
	Stop() error

	// Name returns a human-readable name for the backend.
	Name() string
}

// Options holds settings common to every backend.
type Options struct {
	Mountpoint string
	AllowOther bool
	Debug      bool
}

// New returns the backend called name: "gofuse" or "cgofuse".
func New(name string, opts Options) (Backend, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	switch name {
	case "", "gofuse":
		return fuse.NewBackend(opts.Mountpoint, fuse.Options{
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		}), nil
	case "cgofuse":
		return hostfs.NewBackend(opts.Mountpoint, hostfs.Options{
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		}), nil
	default:
		return nil, fmt.Errorf("unknown FUSE backend %q", name)
	}
}
