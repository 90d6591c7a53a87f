// Package namespace implements the in-memory directory tree behind the
// filesystem: path resolution, the directory and file store, file
// content, and the open handle table.
//
// All state lives in a Namespace guarded by a single RWMutex. Every
// operation resolves its path and applies its mutation under that lock,
// so a resolution never outlives the change it guards. Directories and
// files are kept in arenas and referenced by generation-checked indices;
// open handles resolve through those indices, which keeps them bound to
// the same file when child lists grow or entries are swap-removed, and
// makes them fail cleanly once the file is unlinked.
package namespace

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fruitsalade/lfs/internal/events"
	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/metrics"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
	permMask        = 0o7777
)

// WriteMode selects where write places its bytes.
type WriteMode int

const (
	// WriteAppend places every write at the current end of the file
	// regardless of the offset the caller passes.
	WriteAppend WriteMode = iota

	// WriteAtOffset places bytes at the caller's offset and zero-fills
	// any gap past the end of the file.
	WriteAtOffset
)

// ParseWriteMode parses "append" or "offset".
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(s) {
	case "", "append":
		return WriteAppend, nil
	case "offset":
		return WriteAtOffset, nil
	default:
		return 0, fmt.Errorf("unknown write mode %q", s)
	}
}

func (m WriteMode) String() string {
	if m == WriteAtOffset {
		return "offset"
	}
	return "append"
}

// Options configures a Namespace.
type Options struct {
	WriteMode WriteMode

	// MaxFileSize caps a single file's content in bytes. Zero means no
	// cap beyond what an int can address.
	MaxFileSize int64

	// MaxEntries caps each child list. Zero uses MaxEntries.
	MaxEntries int

	// Clock supplies timestamps. Nil uses time.Now.
	Clock func() time.Time

	// Events receives a notification for every successful mutation.
	// Optional.
	Events *events.Broadcaster

	// Logger is optional; nil uses the global logger.
	Logger *zap.Logger
}

// Attr is the metadata getattr reports.
type Attr struct {
	Kind  Kind
	Mode  uint32
	Nlink uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
}

// DirEntry is one name reported by Readdir.
type DirEntry struct {
	Name string
	Mode uint32
}

// Stats summarizes the namespace.
type Stats struct {
	Directories int
	Files       int
	Bytes       int64
	OpenHandles int
}

// Namespace is the filesystem tree rooted at "/".
type Namespace struct {
	mu      sync.RWMutex
	dirs    arena[directory]
	files   arena[file]
	root    ref
	handles handleTable
	bytes   int64

	opts    Options
	now     func() time.Time
	log     *zap.Logger
	mounted atomic.Bool
}

// New creates a namespace holding only the root directory.
func New(opts Options) *Namespace {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = MaxEntries
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("namespace")
	}

	ns := &Namespace{
		handles: newHandleTable(),
		opts:    opts,
		now:     opts.Clock,
		log:     opts.Logger,
	}
	now := ns.now()
	ns.root = ns.dirs.alloc(&directory{
		name:  "/",
		mode:  unix.S_IFDIR | defaultDirPerm,
		atime: now,
		mtime: now,
		dirs:  newEntryList(opts.MaxEntries),
		files: newEntryList(opts.MaxEntries),
	})
	ns.updateGauges()
	return ns
}

// SetMounted sets the readiness signal other processes poll before
// touching the mount.
func (ns *Namespace) SetMounted(mounted bool) {
	ns.mounted.Store(mounted)
}

// Mounted reports whether the namespace is mounted and serving.
func (ns *Namespace) Mounted() bool {
	return ns.mounted.Load()
}

// Mkdir creates an empty directory at p.
func (ns *Namespace) Mkdir(p string, mode uint32) (err error) {
	defer ns.observe("mkdir", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	res, err := ns.resolve(p)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	parent, err := ns.createParent(res)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}

	perm := mode & permMask
	if perm == 0 {
		perm = defaultDirPerm
	}
	now := ns.now()
	r := ns.dirs.alloc(&directory{
		name:   res.name,
		mode:   unix.S_IFDIR | perm,
		atime:  now,
		mtime:  now,
		parent: res.parent,
		dirs:   newEntryList(ns.opts.MaxEntries),
		files:  newEntryList(ns.opts.MaxEntries),
	})
	if err := parent.dirs.insert(r); err != nil {
		ns.dirs.release(r)
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	parent.mtime = now

	ns.publish(events.OpMkdir, p, 0)
	return nil
}

// Mknod creates an empty regular file at p.
func (ns *Namespace) Mknod(p string, mode uint32) (err error) {
	defer ns.observe("mknod", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	_, err = ns.mknodLocked(p, mode)
	return err
}

// Create creates an empty regular file at p and opens it.
func (ns *Namespace) Create(p string, mode uint32) (h Handle, err error) {
	defer ns.observe("create", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	r, err := ns.mknodLocked(p, mode)
	if err != nil {
		return 0, err
	}
	return ns.handles.issue(r), nil
}

func (ns *Namespace) mknodLocked(p string, mode uint32) (ref, error) {
	if t := mode & unix.S_IFMT; t != 0 && t != unix.S_IFREG {
		return ref{}, fmt.Errorf("mknod %s: file type %#o: %w", p, t, ErrInvalid)
	}
	res, err := ns.resolve(p)
	if err != nil {
		return ref{}, fmt.Errorf("mknod %s: %w", p, err)
	}
	parent, err := ns.createParent(res)
	if err != nil {
		return ref{}, fmt.Errorf("mknod %s: %w", p, err)
	}

	perm := mode & permMask
	if perm == 0 {
		perm = defaultFilePerm
	}
	now := ns.now()
	r := ns.files.alloc(&file{
		name:   res.name,
		mode:   unix.S_IFREG | perm,
		atime:  now,
		mtime:  now,
		parent: res.parent,
	})
	if err := parent.files.insert(r); err != nil {
		ns.files.release(r)
		return ref{}, fmt.Errorf("mknod %s: %w", p, err)
	}
	parent.mtime = now

	ns.publish(events.OpMknod, p, 0)
	return r, nil
}

// createParent checks that res names a free slot under an existing
// directory and returns that directory.
func (ns *Namespace) createParent(res resolution) (*directory, error) {
	if res.kind != KindNotFound {
		return nil, ErrExist
	}
	if !res.hasParent {
		return nil, res.missing()
	}
	return ns.dirs.get(res.parent), nil
}

// Rmdir removes the empty directory at p.
func (ns *Namespace) Rmdir(p string) (err error) {
	defer ns.observe("rmdir", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	res, err := ns.resolve(p)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	switch res.kind {
	case KindNotFound:
		return fmt.Errorf("rmdir %s: %w", p, res.missing())
	case KindFile:
		return fmt.Errorf("rmdir %s: %w", p, wrongKind(ErrNotDir))
	}
	if !res.hasParent {
		return fmt.Errorf("rmdir %s: cannot remove root: %w", p, ErrBusy)
	}
	if !ns.dirs.get(res.dir).empty() {
		return fmt.Errorf("rmdir %s: %w", p, ErrNotEmpty)
	}

	parent := ns.dirs.get(res.parent)
	parent.dirs.swapRemove(res.index)
	ns.dirs.release(res.dir)
	parent.mtime = ns.now()

	ns.publish(events.OpRmdir, p, 0)
	return nil
}

// Unlink removes the regular file at p. Handles still open on it fail
// from then on.
func (ns *Namespace) Unlink(p string) (err error) {
	defer ns.observe("unlink", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	res, err := ns.resolve(p)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	switch res.kind {
	case KindNotFound:
		return fmt.Errorf("unlink %s: %w", p, res.missing())
	case KindDirectory:
		return fmt.Errorf("unlink %s: %w", p, wrongKind(ErrIsDir))
	}

	f := ns.files.get(res.file)
	ns.bytes -= int64(f.content.size)
	f.content.release()

	parent := ns.dirs.get(res.parent)
	parent.files.swapRemove(res.index)
	ns.files.release(res.file)
	parent.mtime = ns.now()

	ns.publish(events.OpUnlink, p, 0)
	return nil
}

// Open issues a handle for the regular file at p.
func (ns *Namespace) Open(p string) (h Handle, err error) {
	defer ns.observe("open", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	res, err := ns.resolve(p)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", p, err)
	}
	switch res.kind {
	case KindNotFound:
		return 0, fmt.Errorf("open %s: %w", p, res.missing())
	case KindDirectory:
		return 0, fmt.Errorf("open %s: %w", p, wrongKind(ErrIsDir))
	}

	ns.files.get(res.file).atime = ns.now()
	return ns.handles.issue(res.file), nil
}

// Release invalidates h. Releasing an unknown handle is a no-op.
func (ns *Namespace) Release(h Handle) {
	ns.mu.Lock()
	ns.handles.release(h)
	ns.mu.Unlock()

	ns.observe("release", "", time.Now(), new(error))
}

// Read copies up to len(dest) bytes of h's file starting at off and
// returns the number copied. Reads past the end return 0.
func (ns *Namespace) Read(h Handle, dest []byte, off int64) (n int, err error) {
	defer ns.observe("read", "", time.Now(), &err)

	if off < 0 {
		return 0, fmt.Errorf("read handle %d: negative offset %d: %w", h, off, ErrInvalid)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	f, err := ns.fileForHandle(h)
	if err != nil {
		return 0, fmt.Errorf("read handle %d: %w", h, err)
	}
	n = f.content.readAt(dest, off)
	f.atime = ns.now()

	metrics.RecordBytesRead(n)
	return n, nil
}

// Write stores data in h's file and returns len(data). Where the bytes
// land depends on the namespace's WriteMode.
func (ns *Namespace) Write(h Handle, data []byte, off int64) (n int, err error) {
	defer ns.observe("write", "", time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	f, err := ns.fileForHandle(h)
	if err != nil {
		return 0, fmt.Errorf("write handle %d: %w", h, err)
	}

	before := f.content.size
	if ns.opts.WriteMode == WriteAtOffset {
		err = f.content.writeAt(data, off, ns.opts.MaxFileSize)
	} else {
		err = f.content.appendData(data, ns.opts.MaxFileSize)
	}
	if err != nil {
		return 0, fmt.Errorf("write handle %d: %w", h, err)
	}
	ns.bytes += int64(f.content.size - before)
	f.mtime = ns.now()

	metrics.RecordBytesWritten(len(data))
	ns.publish(events.OpWrite, ns.pathOf(f), int64(f.content.size))
	return len(data), nil
}

// Truncate resizes the regular file at p to length bytes.
func (ns *Namespace) Truncate(p string, length int64) (err error) {
	defer ns.observe("truncate", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	res, err := ns.resolve(p)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", p, err)
	}
	switch res.kind {
	case KindNotFound:
		return fmt.Errorf("truncate %s: %w", p, res.missing())
	case KindDirectory:
		return fmt.Errorf("truncate %s: %w", p, wrongKind(ErrIsDir))
	}
	if err := ns.truncateLocked(ns.files.get(res.file), length); err != nil {
		return fmt.Errorf("truncate %s: %w", p, err)
	}
	return nil
}

// TruncateHandle resizes h's file to length bytes.
func (ns *Namespace) TruncateHandle(h Handle, length int64) (err error) {
	defer ns.observe("ftruncate", "", time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	f, err := ns.fileForHandle(h)
	if err != nil {
		return fmt.Errorf("truncate handle %d: %w", h, err)
	}
	if err := ns.truncateLocked(f, length); err != nil {
		return fmt.Errorf("truncate handle %d: %w", h, err)
	}
	return nil
}

func (ns *Namespace) truncateLocked(f *file, length int64) error {
	before := f.content.size
	if err := f.content.truncate(length, ns.opts.MaxFileSize); err != nil {
		return err
	}
	ns.bytes += int64(f.content.size - before)
	f.mtime = ns.now()
	ns.publish(events.OpTruncate, ns.pathOf(f), length)
	return nil
}

// Utime sets the access and modification times of the entry at p. A zero
// time leaves that timestamp unchanged.
func (ns *Namespace) Utime(p string, atime, mtime time.Time) (err error) {
	defer ns.observe("utime", p, time.Now(), &err)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	res, err := ns.resolve(p)
	if err != nil {
		return fmt.Errorf("utime %s: %w", p, err)
	}

	var at, mt *time.Time
	switch res.kind {
	case KindNotFound:
		return fmt.Errorf("utime %s: %w", p, res.missing())
	case KindDirectory:
		d := ns.dirs.get(res.dir)
		at, mt = &d.atime, &d.mtime
	case KindFile:
		f := ns.files.get(res.file)
		at, mt = &f.atime, &f.mtime
	}
	if !atime.IsZero() {
		*at = atime
	}
	if !mtime.IsZero() {
		*mt = mtime
	}

	ns.publish(events.OpUtime, p, 0)
	return nil
}

// Readdir lists the directory at p: ".", "..", the child directories,
// then the child files. Order within each group follows insertion order
// but changes when entries are removed.
func (ns *Namespace) Readdir(p string) (entries []DirEntry, err error) {
	defer ns.observe("readdir", p, time.Now(), &err)

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	res, err := ns.resolve(p)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, err)
	}
	switch res.kind {
	case KindNotFound:
		return nil, fmt.Errorf("readdir %s: %w", p, res.missing())
	case KindFile:
		return nil, fmt.Errorf("readdir %s: %w", p, wrongKind(ErrNotDir))
	}

	d := ns.dirs.get(res.dir)
	entries = make([]DirEntry, 0, 2+d.dirs.len()+d.files.len())
	entries = append(entries,
		DirEntry{Name: ".", Mode: unix.S_IFDIR},
		DirEntry{Name: "..", Mode: unix.S_IFDIR},
	)
	for _, r := range d.dirs.refs {
		child := ns.dirs.get(r)
		entries = append(entries, DirEntry{Name: child.name, Mode: child.mode})
	}
	for _, r := range d.files.refs {
		child := ns.files.get(r)
		entries = append(entries, DirEntry{Name: child.name, Mode: child.mode})
	}
	return entries, nil
}

// Getattr reports the metadata of the entry at p.
func (ns *Namespace) Getattr(p string) (attr Attr, err error) {
	defer ns.observe("getattr", p, time.Now(), &err)

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	res, err := ns.resolve(p)
	if err != nil {
		return Attr{}, fmt.Errorf("getattr %s: %w", p, err)
	}
	switch res.kind {
	case KindDirectory:
		return ns.dirAttr(ns.dirs.get(res.dir)), nil
	case KindFile:
		return fileAttr(ns.files.get(res.file)), nil
	default:
		return Attr{}, fmt.Errorf("getattr %s: %w", p, res.missing())
	}
}

// GetattrHandle reports the metadata of h's file.
func (ns *Namespace) GetattrHandle(h Handle) (attr Attr, err error) {
	defer ns.observe("fgetattr", "", time.Now(), &err)

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	f, err := ns.fileForHandle(h)
	if err != nil {
		return Attr{}, fmt.Errorf("getattr handle %d: %w", h, err)
	}
	return fileAttr(f), nil
}

// Statfs summarizes the namespace.
func (ns *Namespace) Statfs() Stats {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.statsLocked()
}

func (ns *Namespace) statsLocked() Stats {
	return Stats{
		Directories: ns.dirs.live,
		Files:       ns.files.live,
		Bytes:       ns.bytes,
		OpenHandles: ns.handles.count(),
	}
}

func (ns *Namespace) dirAttr(d *directory) Attr {
	return Attr{
		Kind:  KindDirectory,
		Mode:  d.mode,
		Nlink: uint32(2 + d.dirs.len()),
		Atime: d.atime,
		Mtime: d.mtime,
	}
}

func fileAttr(f *file) Attr {
	return Attr{
		Kind:  KindFile,
		Mode:  f.mode,
		Nlink: 1,
		Size:  int64(f.content.size),
		Atime: f.atime,
		Mtime: f.mtime,
	}
}

// fileForHandle resolves h to its file. Must be called with ns.mu held.
func (ns *Namespace) fileForHandle(h Handle) (*file, error) {
	r, ok := ns.handles.lookup(h)
	if !ok {
		return nil, ErrInvalidHandle
	}
	f := ns.files.get(r)
	if f == nil {
		return nil, ErrInvalidHandle
	}
	return f, nil
}

// pathOf rebuilds the absolute path of f by following parent refs.
// Must be called with ns.mu held.
func (ns *Namespace) pathOf(f *file) string {
	segs := []string{f.name}
	for r := f.parent; r != ns.root; {
		d := ns.dirs.get(r)
		if d == nil {
			break
		}
		segs = append(segs, d.name)
		r = d.parent
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return "/" + strings.Join(segs, "/")
}

func (ns *Namespace) publish(op events.Op, p string, size int64) {
	if ns.opts.Events == nil {
		return
	}
	ns.opts.Events.Publish(events.Event{
		Op:        op,
		Path:      p,
		Size:      size,
		Timestamp: ns.now(),
	})
}

// observe records metrics for an operation and logs its failure.
func (ns *Namespace) observe(op, p string, start time.Time, errp *error) {
	err := *errp
	metrics.RecordOperation(op, ResultLabel(err), time.Since(start))
	if err != nil {
		ns.log.Debug("operation failed",
			zap.String("op", op),
			zap.String("path", p),
			zap.Error(err),
		)
	}
	switch op {
	case "mkdir", "mknod", "create", "rmdir", "unlink", "open", "release", "write", "truncate", "ftruncate":
		ns.updateGauges()
	}
}

func (ns *Namespace) updateGauges() {
	ns.mu.RLock()
	s := ns.statsLocked()
	ns.mu.RUnlock()
	metrics.SetNamespaceSize(s.Directories, s.Files, s.Bytes, s.OpenHandles)
}
