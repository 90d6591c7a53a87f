package hostfs

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/fruitsalade/lfs/internal/namespace"
)

func newTestFS(t *testing.T) (*FS, *namespace.Namespace) {
	t.Helper()
	ns := namespace.New(namespace.Options{Logger: zap.NewNop()})
	f := New(ns)
	f.log = zap.NewNop()
	return f, ns
}

func TestErrc(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{namespace.ErrNotFound, -fuse.ENOENT},
		{namespace.ErrExist, -fuse.EEXIST},
		{namespace.ErrNotEmpty, -fuse.ENOTEMPTY},
		{namespace.ErrIsDir, -fuse.EISDIR},
		{namespace.ErrNotDir, -fuse.ENOTDIR},
		{namespace.ErrNoMemory, -fuse.ENOMEM},
		{namespace.ErrInvalidHandle, -fuse.ENOENT},
		{namespace.ErrInvalid, -fuse.EINVAL},
		{namespace.ErrBusy, -fuse.EBUSY},
		{fmt.Errorf("mkdir /a: %w", namespace.ErrExist), -fuse.EEXIST},
		{fmt.Errorf("open /d: %w (%w)", namespace.ErrNotFound, namespace.ErrIsDir), -fuse.ENOENT},
		{errors.New("boom"), -fuse.EIO},
	}
	for _, tt := range tests {
		if got := errc(tt.err); got != tt.want {
			t.Errorf("errc(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestScenario(t *testing.T) {
	f, _ := newTestFS(t)

	if rc := f.Mkdir("/a", 0o755); rc != 0 {
		t.Fatalf("Mkdir(/a) = %d", rc)
	}
	if rc := f.Mkdir("/a/b", 0o755); rc != 0 {
		t.Fatalf("Mkdir(/a/b) = %d", rc)
	}
	if rc := f.Mknod("/a/b/f", fuse.S_IFREG|0o644, 0); rc != 0 {
		t.Fatalf("Mknod = %d", rc)
	}

	rc, fh := f.Open("/a/b/f", os.O_RDWR)
	if rc != 0 {
		t.Fatalf("Open = %d", rc)
	}
	if n := f.Write("/a/b/f", []byte("hello"), 0, fh); n != 5 {
		t.Errorf("Write = %d, want 5", n)
	}
	buf := make([]byte, 16)
	if n := f.Read("/a/b/f", buf, 0, fh); n != 5 || string(buf[:5]) != "hello" {
		t.Errorf("Read = %d %q, want 5 hello", n, buf[:n])
	}
	f.Release("/a/b/f", fh)

	var names []string
	f.Readdir("/a/b", func(name string, stat *fuse.Stat_t, ofst int64) bool {
		names = append(names, name)
		return true
	}, 0, noHandle)
	if fmt.Sprint(names) != "[. .. f]" {
		t.Errorf("Readdir = %v, want [. .. f]", names)
	}

	var st fuse.Stat_t
	if rc := f.Getattr("/a/b/f", &st, noHandle); rc != 0 || st.Size != 5 {
		t.Errorf("Getattr = %d size %d, want 0 size 5", rc, st.Size)
	}
	if st.Mode != fuse.S_IFREG|0o644 || st.Nlink != 1 {
		t.Errorf("Getattr mode %o nlink %d", st.Mode, st.Nlink)
	}

	if rc := f.Rmdir("/a"); rc != -fuse.ENOTEMPTY {
		t.Errorf("Rmdir(/a) = %d, want ENOTEMPTY", rc)
	}
	if rc := f.Unlink("/a/b/f"); rc != 0 {
		t.Errorf("Unlink = %d", rc)
	}
	if rc := f.Rmdir("/a/b"); rc != 0 {
		t.Errorf("Rmdir(/a/b) = %d", rc)
	}
	if rc := f.Rmdir("/a"); rc != 0 {
		t.Errorf("Rmdir(/a) = %d", rc)
	}
	if rc := f.Getattr("/a", &st, noHandle); rc != -fuse.ENOENT {
		t.Errorf("Getattr(/a) = %d, want ENOENT", rc)
	}
}

func TestCreateTruncateUtimens(t *testing.T) {
	f, ns := newTestFS(t)

	rc, fh := f.Create("/f", os.O_CREATE|os.O_RDWR, 0o600)
	if rc != 0 {
		t.Fatalf("Create = %d", rc)
	}
	f.Write("/f", []byte("0123456789"), 0, fh)

	if rc := f.Truncate("/f", 3, fh); rc != 0 {
		t.Errorf("Truncate(fh) = %d", rc)
	}
	var st fuse.Stat_t
	f.Getattr("/f", &st, fh)
	if st.Size != 3 {
		t.Errorf("size after truncate = %d, want 3", st.Size)
	}
	f.Release("/f", fh)

	if rc := f.Truncate("/f", 0, noHandle); rc != 0 {
		t.Errorf("Truncate(path) = %d", rc)
	}

	at := time.Unix(1000, 0)
	mt := time.Unix(2000, 0)
	if rc := f.Utimens("/f", []fuse.Timespec{fuse.NewTimespec(at), fuse.NewTimespec(mt)}); rc != 0 {
		t.Errorf("Utimens = %d", rc)
	}
	attr, err := ns.Getattr("/f")
	if err != nil {
		t.Fatal(err)
	}
	if !attr.Atime.Equal(at) || !attr.Mtime.Equal(mt) {
		t.Errorf("times = %v %v, want %v %v", attr.Atime, attr.Mtime, at, mt)
	}

	wrongKind := []struct {
		name string
		rc   int
	}{
		{"Open(/)", func() int { rc, _ := f.Open("/", os.O_RDONLY); return rc }()},
		{"Opendir(/f)", func() int { rc, _ := f.Opendir("/f"); return rc }()},
		{"Readdir(/f)", f.Readdir("/f", func(string, *fuse.Stat_t, int64) bool { return true }, 0, noHandle)},
		{"Truncate(/)", f.Truncate("/", 0, noHandle)},
		{"Unlink(/)", f.Unlink("/")},
		{"Mkdir(/f/x)", f.Mkdir("/f/x", 0o755)},
	}
	for _, tt := range wrongKind {
		if tt.rc != -fuse.ENOENT {
			t.Errorf("%s = %d, want ENOENT", tt.name, tt.rc)
		}
	}
}

func TestInitDestroyDriveReadiness(t *testing.T) {
	f, ns := newTestFS(t)
	f.Init()
	if !ns.Mounted() {
		t.Error("Mounted() = false after Init")
	}
	f.Destroy()
	if ns.Mounted() {
		t.Error("Mounted() = true after Destroy")
	}
}

func TestOptionsArgs(t *testing.T) {
	got := fmt.Sprint(Options{AllowOther: true, Debug: true}.args())
	if got != "[-o fsname=lfs -o allow_other -d]" {
		t.Errorf("args = %s", got)
	}
}
