// lfs mounts an in-memory filesystem and optionally mirrors it to durable
// storage.
//
// Sub-commands:
//
//	lfs mount [flags]   Mount the filesystem (default)
//	lfs version         Print the version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/lfs/internal/config"
	"github.com/fruitsalade/lfs/internal/events"
	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/metrics"
	"github.com/fruitsalade/lfs/internal/mirror"
	"github.com/fruitsalade/lfs/internal/mount"
	"github.com/fruitsalade/lfs/internal/namespace"
	"github.com/fruitsalade/lfs/internal/storage"
	"github.com/fruitsalade/lfs/pkg/retry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println("lfs", version)
			return
		case "mount":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	if err := cmdMount(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdMount() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.Mountpoint, "mount", cfg.Mountpoint, "Mount point (required)")
	flag.StringVar(&cfg.FUSEBackend, "backend", cfg.FUSEBackend, "FUSE library: gofuse or cgofuse")
	flag.BoolVar(&cfg.AllowOther, "allow-other", cfg.AllowOther, "Allow other users to access the mount")
	flag.BoolVar(&cfg.FUSEDebug, "debug", cfg.FUSEDebug, "Log every FUSE request")
	flag.StringVar(&cfg.LogLevel, "v", cfg.LogLevel, "Log level: debug, info, warn, error")
	quiet := flag.Bool("q", false, "Quiet mode: log errors only")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Address for /metrics and /healthz (empty to disable)")
	flag.StringVar(&cfg.WriteMode, "write-mode", cfg.WriteMode, "Write placement: append or offset")
	flag.Int64Var(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "Maximum bytes per file (0 = unlimited)")
	flag.StringVar(&cfg.MirrorBackend, "mirror", cfg.MirrorBackend, "Mirror backend: rsync, local or s3 (empty to disable)")
	flag.StringVar(&cfg.MirrorDest, "mirror-dest", cfg.MirrorDest, "Mirror destination: rsync target, directory or s3://bucket/prefix")
	flag.DurationVar(&cfg.MirrorInterval, "mirror-interval", cfg.MirrorInterval, "Time between mirror runs")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync()
	if *quiet {
		logging.SetLevel("error")
	}
	log := logging.L()

	if err := cfg.Validate(); err != nil {
		return err
	}
	writeMode, err := namespace.ParseWriteMode(cfg.WriteMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcaster := events.NewBroadcaster()
	ns := namespace.New(namespace.Options{
		WriteMode:   writeMode,
		MaxFileSize: cfg.MaxFileSize,
		Events:      broadcaster,
		Logger:      logging.Named("namespace"),
	})

	backend, err := mount.New(cfg.FUSEBackend, mount.Options{
		Mountpoint: cfg.Mountpoint,
		AllowOther: cfg.AllowOther,
		Debug:      cfg.FUSEDebug,
	})
	if err != nil {
		return err
	}

	log.Info("starting lfs",
		logging.String("version", version),
		logging.String("mountpoint", cfg.Mountpoint),
		logging.String("backend", backend.Name()),
		logging.String("write_mode", writeMode.String()),
		logging.String("mirror", cfg.MirrorBackend),
		logging.Duration("mirror_interval", cfg.MirrorInterval),
	)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = startMetricsServer(cfg.MetricsAddr, ns)
	}

	var wg sync.WaitGroup
	mirrorCtx, stopMirror := context.WithCancel(ctx)
	defer stopMirror()
	if cfg.MirrorBackend != "" {
		m, closeFn, err := newMirror(mirrorCtx, cfg, ns, broadcaster)
		if err != nil {
			return err
		}
		defer closeFn()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Run(mirrorCtx); err != nil {
				log.Error("mirror stopped", logging.Err(err))
			}
		}()
	}

	err = backend.Start(ctx, ns)
	ns.SetMounted(false)
	stopMirror()
	wg.Wait()

	if metricsServer != nil {
		stopMetricsServer(metricsServer, 5*time.Second, log)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("mount failed", logging.Err(err))
		return err
	}
	log.Info("unmounted", logging.String("mountpoint", cfg.Mountpoint))
	return nil
}

func startMetricsServer(addr string, ns *namespace.Namespace) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", healthz(ns))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.L().Info("metrics server listening", logging.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics server error", logging.Err(err))
		}
	}()
	return srv
}

// stopMetricsServer shuts srv down, waiting up to timeout for in-flight
// scrapes.
func stopMetricsServer(srv *http.Server, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("metrics server shutdown", logging.Err(err))
	}
}

// healthz reports 200 while the namespace is mounted.
func healthz(ns *namespace.Namespace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ns.Mounted() {
			http.Error(w, "not mounted", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	}
}

// newMirror builds the configured mirror. The returned func releases the
// storage backend and event subscription.
func newMirror(ctx context.Context, cfg *config.Config, ns *namespace.Namespace, b *events.Broadcaster) (*mirror.Mirror, func(), error) {
	var syncer mirror.Syncer
	closeFn := func() {}

	switch cfg.MirrorBackend {
	case "rsync":
		syncer = &mirror.RsyncSyncer{Path: cfg.RsyncPath, Dest: cfg.MirrorDest}
	default:
		raw := cfg.MirrorConfig
		if len(raw) == 0 {
			var err error
			raw, err = storage.ConfigForDest(cfg.MirrorBackend, cfg.MirrorDest)
			if err != nil {
				return nil, nil, err
			}
		}
		store, err := storage.NewBackendFromConfig(ctx, cfg.MirrorBackend, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("create %s mirror backend: %w", cfg.MirrorBackend, err)
		}
		syncer = mirror.NewStoreSyncer(store)
		closeFn = func() { store.Close() }
	}

	m := &mirror.Mirror{
		Source:       cfg.Mountpoint,
		Readiness:    ns,
		Syncer:       syncer,
		Interval:     cfg.MirrorInterval,
		PollInterval: cfg.MirrorPoll,
		Retry:        retry.DefaultConfig(),
		SkipIdle:     cfg.MirrorSkipIdle,
		Logger:       logging.Named("mirror"),
	}
	if cfg.MirrorSkipIdle {
		ch := b.Subscribe(256)
		m.Changes = ch
		prev := closeFn
		closeFn = func() {
			b.Unsubscribe(ch)
			prev()
		}
	}
	return m, closeFn, nil
}
