package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fruitsalade/lfs/internal/config"
	"github.com/fruitsalade/lfs/internal/events"
	"github.com/fruitsalade/lfs/internal/mirror"
	"github.com/fruitsalade/lfs/internal/namespace"
)

func TestHealthz(t *testing.T) {
	ns := namespace.New(namespace.Options{})
	h := healthz(ns)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ns.SetMounted(true)
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestNewMirrorRsync(t *testing.T) {
	cfg := &config.Config{
		Mountpoint:     "/mnt/lfs",
		MirrorBackend:  "rsync",
		MirrorDest:     "backup:/srv/lfs",
		MirrorInterval: time.Minute,
		MirrorPoll:     time.Second,
		RsyncPath:      "rsync",
	}
	ns := namespace.New(namespace.Options{})
	b := events.NewBroadcaster()

	m, closeFn, err := newMirror(context.Background(), cfg, ns, b)
	require.NoError(t, err)
	defer closeFn()

	rs, ok := m.Syncer.(*mirror.RsyncSyncer)
	require.True(t, ok, "syncer is %T", m.Syncer)
	assert.Equal(t, "backup:/srv/lfs", rs.Dest)
	assert.Equal(t, "/mnt/lfs", m.Source)
	assert.Nil(t, m.Changes)
	assert.Equal(t, 0, b.Count())
}

func TestNewMirrorLocalSubscribes(t *testing.T) {
	cfg := &config.Config{
		Mountpoint:     "/mnt/lfs",
		MirrorBackend:  "local",
		MirrorDest:     t.TempDir(),
		MirrorInterval: time.Minute,
		MirrorPoll:     time.Second,
		MirrorSkipIdle: true,
	}
	ns := namespace.New(namespace.Options{})
	b := events.NewBroadcaster()

	m, closeFn, err := newMirror(context.Background(), cfg, ns, b)
	require.NoError(t, err)

	_, ok := m.Syncer.(*mirror.StoreSyncer)
	require.True(t, ok, "syncer is %T", m.Syncer)
	assert.NotNil(t, m.Changes)
	assert.Equal(t, 1, b.Count())

	closeFn()
	assert.Equal(t, 0, b.Count())
}

func TestNewMirrorBadBackend(t *testing.T) {
	cfg := &config.Config{MirrorBackend: "ftp", MirrorDest: "x"}
	_, _, err := newMirror(context.Background(), cfg, namespace.New(namespace.Options{}), events.NewBroadcaster())
	assert.Error(t, err)
}

func TestStopMetricsServerLogsShutdownError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	accepted := make(chan struct{}, 1)
	srv := &http.Server{
		Handler: http.NotFoundHandler(),
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateNew {
				accepted <- struct{}{}
			}
		},
	}
	go srv.Serve(ln)

	// A connection that never sends a request keeps Shutdown waiting.
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not accepted")
	}

	core, logs := observer.New(zapcore.WarnLevel)
	stopMetricsServer(srv, 0, zap.New(core))

	entries := logs.FilterMessage("metrics server shutdown").All()
	require.Len(t, entries, 1)
	assert.Equal(t, context.DeadlineExceeded.Error(), entries[0].ContextMap()["error"])
	srv.Close()
}

func TestStopMetricsServerQuiet(t *testing.T) {
	srv := &http.Server{Handler: http.NotFoundHandler()}
	core, logs := observer.New(zapcore.DebugLevel)
	stopMetricsServer(srv, time.Second, zap.New(core))
	assert.Zero(t, logs.Len())
}
