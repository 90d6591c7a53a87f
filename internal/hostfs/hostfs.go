// Package hostfs serves a namespace through the cgofuse path API, which
// runs on libfuse, macFUSE and WinFsp.
package hostfs

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/namespace"
)

const noHandle = ^uint64(0)

// FS adapts a namespace to fuse.FileSystemInterface. cgofuse file handles
// carry namespace handles directly.
type FS struct {
	fuse.FileSystemBase

	ns  *namespace.Namespace
	log *zap.Logger
	uid uint32
	gid uint32
}

// New creates a path-API filesystem over ns.
func New(ns *namespace.Namespace) *FS {
	return &FS{
		ns:  ns,
		log: logging.Named("hostfs"),
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

var _ fuse.FileSystemInterface = (*FS)(nil)

// errc converts a namespace error to the negative status cgofuse expects.
func errc(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	switch namespace.Errno(err) {
	case syscall.ENOENT:
		return -fuse.ENOENT
	case syscall.EEXIST:
		return -fuse.EEXIST
	case syscall.ENOTEMPTY:
		return -fuse.ENOTEMPTY
	case syscall.EISDIR:
		return -fuse.EISDIR
	case syscall.ENOTDIR:
		return -fuse.ENOTDIR
	case syscall.ENOMEM:
		return -fuse.ENOMEM
	case syscall.EINVAL:
		return -fuse.EINVAL
	case syscall.EBUSY:
		return -fuse.EBUSY
	default:
		return -fuse.EIO
	}
}

func (f *FS) fillStat(a namespace.Attr, stat *fuse.Stat_t) {
	if a.Kind == namespace.KindDirectory {
		stat.Mode = fuse.S_IFDIR | a.Mode&0o7777
	} else {
		stat.Mode = fuse.S_IFREG | a.Mode&0o7777
	}
	stat.Nlink = a.Nlink
	stat.Size = a.Size
	stat.Blksize = 4096
	stat.Blocks = (a.Size + 511) / 512
	stat.Atim = fuse.NewTimespec(a.Atime)
	stat.Mtim = fuse.NewTimespec(a.Mtime)
	stat.Ctim = stat.Mtim
	stat.Uid = f.uid
	stat.Gid = f.gid
}

func (f *FS) Init() {
	f.log.Debug("init")
	f.ns.SetMounted(true)
}

func (f *FS) Destroy() {
	f.log.Debug("destroy")
	f.ns.SetMounted(false)
}

func (f *FS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	var attr namespace.Attr
	var err error
	if fh != noHandle {
		attr, err = f.ns.GetattrHandle(namespace.Handle(fh))
	} else {
		attr, err = f.ns.Getattr(path)
	}
	if err != nil {
		return errc(err)
	}
	f.fillStat(attr, stat)
	return 0
}

func (f *FS) Opendir(path string) (int, uint64) {
	attr, err := f.ns.Getattr(path)
	if err != nil {
		return errc(err), noHandle
	}
	if attr.Kind != namespace.KindDirectory {
		return -fuse.ENOENT, noHandle
	}
	return 0, noHandle
}

func (f *FS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	entries, err := f.ns.Readdir(path)
	if err != nil {
		return errc(err)
	}
	for _, e := range entries {
		st := fuse.Stat_t{Mode: e.Mode}
		if !fill(e.Name, &st, 0) {
			break
		}
	}
	return 0
}

func (f *FS) Releasedir(path string, fh uint64) int { return 0 }

func (f *FS) Mkdir(path string, mode uint32) int {
	return errc(f.ns.Mkdir(path, mode))
}

func (f *FS) Mknod(path string, mode uint32, dev uint64) int {
	return errc(f.ns.Mknod(path, mode))
}

func (f *FS) Create(path string, flags int, mode uint32) (int, uint64) {
	h, err := f.ns.Create(path, mode)
	if err != nil {
		return errc(err), noHandle
	}
	return 0, uint64(h)
}

func (f *FS) Open(path string, flags int) (int, uint64) {
	h, err := f.ns.Open(path)
	if err != nil {
		return errc(err), noHandle
	}
	if flags&os.O_TRUNC != 0 {
		if err := f.ns.TruncateHandle(h, 0); err != nil {
			f.ns.Release(h)
			return errc(err), noHandle
		}
	}
	return 0, uint64(h)
}

func (f *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := f.ns.Read(namespace.Handle(fh), buff, ofst)
	if err != nil {
		return errc(err)
	}
	return n
}

func (f *FS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := f.ns.Write(namespace.Handle(fh), buff, ofst)
	if err != nil {
		return errc(err)
	}
	return n
}

func (f *FS) Flush(path string, fh uint64) int { return 0 }

func (f *FS) Fsync(path string, datasync bool, fh uint64) int { return 0 }

func (f *FS) Release(path string, fh uint64) int {
	f.ns.Release(namespace.Handle(fh))
	return 0
}

func (f *FS) Truncate(path string, size int64, fh uint64) int {
	if fh != noHandle {
		return errc(f.ns.TruncateHandle(namespace.Handle(fh), size))
	}
	return errc(f.ns.Truncate(path, size))
}

// Utimens sets access and modification times. A nil slice means now.
func (f *FS) Utimens(path string, tmsp []fuse.Timespec) int {
	if len(tmsp) < 2 {
		now := time.Now()
		return errc(f.ns.Utime(path, now, now))
	}
	return errc(f.ns.Utime(path, tmsp[0].Time(), tmsp[1].Time()))
}

func (f *FS) Unlink(path string) int {
	return errc(f.ns.Unlink(path))
}

func (f *FS) Rmdir(path string) int {
	return errc(f.ns.Rmdir(path))
}

// Chmod and Chown are accepted without effect; modes are reported, not
// enforced.
func (f *FS) Chmod(path string, mode uint32) int {
	_, err := f.ns.Getattr(path)
	return errc(err)
}

func (f *FS) Chown(path string, uid uint32, gid uint32) int {
	_, err := f.ns.Getattr(path)
	return errc(err)
}

func (f *FS) Access(path string, mask uint32) int {
	_, err := f.ns.Getattr(path)
	return errc(err)
}

func (f *FS) Statfs(path string, stat *fuse.Statfs_t) int {
	s := f.ns.Statfs()
	const free = 1 << 30
	stat.Bsize = 4096
	stat.Frsize = 4096
	stat.Blocks = uint64(s.Bytes+4095)/4096 + free
	stat.Bfree = free
	stat.Bavail = free
	stat.Files = uint64(s.Directories+s.Files) + free
	stat.Ffree = free
	stat.Favail = free
	stat.Namemax = 255
	return 0
}

// Options configures a cgofuse mount.
type Options struct {
	AllowOther bool
	Debug      bool
}

func (o Options) args() []string {
	args := []string{"-o", "fsname=lfs"}
	if o.AllowOther {
		args = append(args, "-o", "allow_other")
	}
	if o.Debug {
		args = append(args, "-d")
	}
	return args
}

// Backend mounts a namespace with cgofuse.
type Backend struct {
	mountpoint string
	opts       Options

	mu   sync.Mutex
	host *fuse.FileSystemHost
}

// NewBackend creates a cgofuse backend for mountpoint.
func NewBackend(mountpoint string, opts Options) *Backend {
	return &Backend{mountpoint: mountpoint, opts: opts}
}

func (b *Backend) Name() string { return "cgofuse" }

// Start mounts ns and blocks until ctx is cancelled or the host exits.
// The host's Init and Destroy callbacks drive ns's mounted signal.
func (b *Backend) Start(ctx context.Context, ns *namespace.Namespace) error {
	if err := os.MkdirAll(b.mountpoint, 0o755); err != nil {
		return err
	}
	host := fuse.NewFileSystemHost(New(ns))
	host.SetCapReaddirPlus(false)
	b.mu.Lock()
	b.host = host
	b.mu.Unlock()

	log := logging.Named("hostfs")
	log.Info("mounting", zap.String("mountpoint", b.mountpoint))

	errCh := make(chan error, 1)
	go func() {
		if !host.Mount(b.mountpoint, b.opts.args()) {
			errCh <- errors.New("cgofuse mount failed")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		ns.SetMounted(false)
		return err
	case <-ctx.Done():
		ns.SetMounted(false)
		b.Stop()
		return <-errCh
	}
}

// Stop unmounts the filesystem if it is mounted.
func (b *Backend) Stop() error {
	b.mu.Lock()
	host := b.host
	b.host = nil
	b.mu.Unlock()
	if host != nil {
		host.Unmount()
	}
	return nil
}
