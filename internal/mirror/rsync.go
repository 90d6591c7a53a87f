package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fruitsalade/lfs/pkg/retry"
)

// RsyncSyncer mirrors the source into Dest with rsync, deleting files
// that no longer exist at the source.
type RsyncSyncer struct {
	Path      string // rsync binary; empty means "rsync" on PATH
	Dest      string
	ExtraArgs []string
}

func (s *RsyncSyncer) Name() string { return "rsync" }

func (s *RsyncSyncer) args(source string) []string {
	args := []string{"-a", "--delete"}
	args = append(args, s.ExtraArgs...)
	return append(args, strings.TrimRight(source, "/")+"/", s.Dest)
}

// Sync runs rsync once. Exit codes rsync documents as transient are
// returned as retryable.
func (s *RsyncSyncer) Sync(ctx context.Context, source string) error {
	bin := s.Path
	if bin == "" {
		bin = "rsync"
	}
	cmd := exec.CommandContext(ctx, bin, s.args(source)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("run %s: %w", bin, err)
	}
	err = fmt.Errorf("%s exited %d: %s", bin, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	switch exitErr.ExitCode() {
	case 10, 11, 12, 23, 24, 30, 35:
		// socket/file I/O, protocol stream, partial transfer, vanished
		// source files, timeouts
		return retry.Retryable(err)
	default:
		return err
	}
}
