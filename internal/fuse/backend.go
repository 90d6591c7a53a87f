package fuse

import (
	"context"
	"fmt"
	"sync"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/namespace"
)

// Backend mounts a namespace with go-fuse.
type Backend struct {
	mountpoint string
	opts       Options

	mu     sync.Mutex
	server *gofuse.Server
}

// NewBackend creates a go-fuse backend for mountpoint.
func NewBackend(mountpoint string, opts Options) *Backend {
	return &Backend{mountpoint: mountpoint, opts: opts}
}

func (b *Backend) Name() string { return "gofuse" }

// Start mounts ns and blocks until ctx is cancelled or the filesystem is
// unmounted externally. ns reports itself mounted while the kernel is
// serving it.
func (b *Backend) Start(ctx context.Context, ns *namespace.Namespace) error {
	server, err := Mount(ns, b.mountpoint, b.opts)
	if err != nil {
		return fmt.Errorf("mount %s: %w", b.mountpoint, err)
	}
	b.mu.Lock()
	b.server = server
	b.mu.Unlock()

	ns.SetMounted(true)
	defer ns.SetMounted(false)

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Named("fuse").Info("unmounted externally", zap.String("mountpoint", b.mountpoint))
		return nil
	case <-ctx.Done():
		ns.SetMounted(false)
		if err := b.Stop(); err != nil {
			return err
		}
		<-done
		return nil
	}
}

// Stop unmounts the filesystem if it is mounted.
func (b *Backend) Stop() error {
	b.mu.Lock()
	server := b.server
	b.server = nil
	b.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", b.mountpoint, err)
	}
	return nil
}
