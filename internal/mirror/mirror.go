// Package mirror periodically copies the mounted tree to durable storage.
//
// The mirror never touches namespace internals. It waits for the
// namespace to report itself mounted, then syncs the mount directory on a
// fixed interval until the readiness signal clears or its context ends.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/lfs/internal/events"
	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/metrics"
	"github.com/fruitsalade/lfs/pkg/retry"
)

// Readiness is the signal the mirror polls before and between runs.
type Readiness interface {
	Mounted() bool
}

// Syncer copies a directory tree somewhere durable.
type Syncer interface {
	Name() string
	Sync(ctx context.Context, source string) error
}

// Mirror schedules Syncer runs against Source.
type Mirror struct {
	Source    string
	Readiness Readiness
	Syncer    Syncer

	// Interval separates runs. PollInterval is how often readiness is
	// checked while waiting for the mount.
	Interval     time.Duration
	PollInterval time.Duration

	Retry retry.Config

	// Changes, when set together with SkipIdle, lets the mirror skip runs
	// when nothing was mutated since the last successful one.
	Changes  <-chan events.Event
	SkipIdle bool

	Logger *zap.Logger
}

func (m *Mirror) validate() error {
	switch {
	case m.Source == "":
		return errors.New("mirror: source is required")
	case m.Readiness == nil:
		return errors.New("mirror: readiness signal is required")
	case m.Syncer == nil:
		return errors.New("mirror: syncer is required")
	case m.Interval <= 0:
		return fmt.Errorf("mirror: interval must be positive, got %s", m.Interval)
	}
	if m.PollInterval <= 0 {
		m.PollInterval = time.Second
	}
	if m.Logger == nil {
		m.Logger = logging.Named("mirror")
	}
	return nil
}

// Run blocks until the readiness signal clears after having been set, or
// ctx ends. It returns nil in both cases.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.validate(); err != nil {
		return err
	}
	log := m.Logger.With(zap.String("syncer", m.Syncer.Name()), zap.String("source", m.Source))

	if !m.waitMounted(ctx) {
		return nil
	}
	log.Info("mount ready, mirroring started", zap.Duration("interval", m.Interval))

	changes := m.Changes
	dirty := true

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("mirroring stopped")
			return nil
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			dirty = true
		case <-ticker.C:
			if !m.Readiness.Mounted() {
				log.Info("mount no longer ready, mirroring stopped")
				return nil
			}
			if m.SkipIdle && m.Changes != nil && !dirty {
				metrics.RecordMirrorRun("skipped", 0)
				continue
			}
			if err := m.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("mirror run failed", zap.Error(err))
				continue
			}
			dirty = false
		}
	}
}

// waitMounted polls readiness. It reports false if ctx ended first.
func (m *Mirror) waitMounted(ctx context.Context) bool {
	if m.Readiness.Mounted() {
		return true
	}
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if m.Readiness.Mounted() {
				return true
			}
		}
	}
}

// RunOnce performs one sync with retries.
func (m *Mirror) RunOnce(ctx context.Context) error {
	start := time.Now()
	cfg := m.Retry
	if cfg.MaxAttempts == 0 && cfg.InitialWait == 0 {
		cfg = retry.DefaultConfig()
	}
	if cfg.OnRetry == nil && m.Logger != nil {
		cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
			m.Logger.Debug("retrying mirror run",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return m.Syncer.Sync(ctx, m.Source)
	})
	if err != nil {
		metrics.RecordMirrorRun("error", time.Since(start))
		return fmt.Errorf("%s sync: %w", m.Syncer.Name(), err)
	}
	metrics.RecordMirrorRun("success", time.Since(start))
	if m.Logger != nil {
		m.Logger.Debug("mirror run complete", zap.Duration("duration", time.Since(start)))
	}
	return nil
}
