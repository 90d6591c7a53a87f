// Package fuse serves a namespace through the go-fuse node API.
package fuse

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/namespace"
)

const blockSize = 4096

// Node is a directory or file in the mounted tree. Paths are stable for
// the life of a node because the namespace has no rename.
type Node struct {
	fs.Inode

	ns   *namespace.Namespace
	path string
	uid  uint32
	gid  uint32
}

// NewRoot returns the root node for ns.
func NewRoot(ns *namespace.Namespace) *Node {
	return &Node{
		ns:   ns,
		path: "/",
		uid:  uint32(os.Getuid()),
		gid:  uint32(os.Getgid()),
	}
}

func (n *Node) child(name string) *Node {
	return &Node{
		ns:   n.ns,
		path: namespace.ChildPath(n.path, name),
		uid:  n.uid,
		gid:  n.gid,
	}
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeMknoder = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeStatfser = (*Node)(nil)

func (n *Node) fillAttr(a namespace.Attr, out *gofuse.Attr) {
	out.Mode = a.Mode
	out.Nlink = a.Nlink
	out.Size = uint64(a.Size)
	out.Blocks = (uint64(a.Size) + 511) / 512
	out.Blksize = blockSize
	out.Uid = n.uid
	out.Gid = n.gid
	atime, mtime := a.Atime, a.Mtime
	out.SetTimes(&atime, &mtime, &mtime)
}

// Getattr reports attributes, through the open handle when there is one.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	var attr namespace.Attr
	var err error
	if fh, ok := f.(*FileHandle); ok {
		attr, err = n.ns.GetattrHandle(fh.h)
	} else {
		attr, err = n.ns.Getattr(n.path)
	}
	if err != nil {
		return namespace.Errno(err)
	}
	n.fillAttr(attr, &out.Attr)
	return 0
}

// Setattr handles truncate and utime. Mode and owner changes are accepted
// and ignored.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		var err error
		if fh, ok := f.(*FileHandle); ok {
			err = n.ns.TruncateHandle(fh.h, int64(size))
		} else {
			err = n.ns.Truncate(n.path, int64(size))
		}
		if err != nil {
			return namespace.Errno(err)
		}
	}

	atime, setA := in.GetATime()
	mtime, setM := in.GetMTime()
	if setA || setM {
		if !setA {
			atime = time.Time{}
		}
		if !setM {
			mtime = time.Time{}
		}
		if err := n.ns.Utime(n.path, atime, mtime); err != nil {
			return namespace.Errno(err)
		}
	}

	return n.Getattr(ctx, f, out)
}

// Lookup finds a child by name.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	attr, err := n.ns.Getattr(child.path)
	if err != nil {
		return nil, namespace.Errno(err)
	}
	return n.newChild(ctx, child, attr, out), 0
}

func (n *Node) newChild(ctx context.Context, child *Node, attr namespace.Attr, out *gofuse.EntryOut) *fs.Inode {
	n.fillAttr(attr, &out.Attr)
	stable := fs.StableAttr{Mode: attr.Mode & syscall.S_IFMT}
	return n.NewInode(ctx, child, stable)
}

// entryAttr fetches the attributes of a just-created child.
func (n *Node) entryAttr(ctx context.Context, child *Node, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, err := n.ns.Getattr(child.path)
	if err != nil {
		return nil, namespace.Errno(err)
	}
	return n.newChild(ctx, child, attr, out), 0
}

// Readdir lists child directories then child files. The kernel adds "."
// and ".." itself.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.ns.Readdir(n.path)
	if err != nil {
		return nil, namespace.Errno(err)
	}
	list := make([]gofuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		list = append(list, gofuse.DirEntry{Name: e.Name, Mode: e.Mode})
	}
	return fs.NewListDirStream(list), 0
}

// Mkdir creates a directory.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.ns.Mkdir(child.path, mode); err != nil {
		return nil, namespace.Errno(err)
	}
	return n.entryAttr(ctx, child, out)
}

// Mknod creates a regular file. Other node types fail with EINVAL.
func (n *Node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.ns.Mknod(child.path, mode); err != nil {
		return nil, namespace.Errno(err)
	}
	return n.entryAttr(ctx, child, out)
}

// Create creates a regular file and opens it.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := n.child(name)
	h, err := n.ns.Create(child.path, mode)
	if err != nil {
		return nil, nil, 0, namespace.Errno(err)
	}
	inode, errno := n.entryAttr(ctx, child, out)
	if errno != 0 {
		n.ns.Release(h)
		return nil, nil, 0, errno
	}
	return inode, &FileHandle{ns: n.ns, h: h}, gofuse.FOPEN_DIRECT_IO, 0
}

// Unlink removes a file.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return namespace.Errno(n.ns.Unlink(namespace.ChildPath(n.path, name)))
}

// Rmdir removes an empty directory.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return namespace.Errno(n.ns.Rmdir(namespace.ChildPath(n.path, name)))
}

// Open issues a namespace handle for the file. Caching is disabled so
// every read and write reaches the namespace.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, err := n.ns.Open(n.path)
	if err != nil {
		return nil, 0, namespace.Errno(err)
	}
	if flags&syscall.O_TRUNC != 0 {
		if err := n.ns.TruncateHandle(h, 0); err != nil {
			n.ns.Release(h)
			return nil, 0, namespace.Errno(err)
		}
	}
	return &FileHandle{ns: n.ns, h: h}, gofuse.FOPEN_DIRECT_IO, 0
}

// Statfs reports namespace totals. There is no fixed capacity, so free
// space is reported as a large constant.
func (n *Node) Statfs(ctx context.Context, out *gofuse.StatfsOut) syscall.Errno {
	s := n.ns.Statfs()
	used := uint64(s.Bytes+blockSize-1) / blockSize
	const free = 1 << 30

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Blocks = used + free
	out.Bfree = free
	out.Bavail = free
	out.Files = uint64(s.Directories+s.Files) + free
	out.Ffree = free
	out.NameLen = 255
	return 0
}

// FileHandle is an open file.
type FileHandle struct {
	ns *namespace.Namespace
	h  namespace.Handle
}

var _ fs.FileHandle = (*FileHandle)(nil)
var _ fs.FileReader = (*FileHandle)(nil)
var _ fs.FileWriter = (*FileHandle)(nil)
var _ fs.FileFlusher = (*FileHandle)(nil)
var _ fs.FileFsyncer = (*FileHandle)(nil)
var _ fs.FileReleaser = (*FileHandle)(nil)

// Read copies file content into dest.
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	n, err := fh.ns.Read(fh.h, dest, off)
	if err != nil {
		return nil, namespace.Errno(err)
	}
	return gofuse.ReadResultData(dest[:n]), 0
}

// Write stores data according to the namespace write mode.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.ns.Write(fh.h, data, off)
	if err != nil {
		return 0, namespace.Errno(err)
	}
	return uint32(n), 0
}

// Flush is a no-op: writes are applied immediately.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno { return 0 }

// Fsync is a no-op: content lives only in memory.
func (fh *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno { return 0 }

// Release returns the handle to the namespace.
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	fh.ns.Release(fh.h)
	return 0
}

// Options configures a go-fuse mount.
type Options struct {
	AllowOther bool
	Debug      bool
}

// Mount serves ns at mountpoint and returns once the kernel has
// acknowledged the mount.
func Mount(ns *namespace.Namespace, mountpoint string, opts Options) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, err
	}
	// Entries can appear and disappear only through this mount, so the
	// kernel may cache lookups briefly.
	timeout := time.Second
	server, err := fs.Mount(mountpoint, NewRoot(ns), &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
			FsName:     "lfs",
			Name:       "lfs",
		},
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		UID:          uint32(os.Getuid()),
		GID:          uint32(os.Getgid()),
	})
	if err != nil {
		return nil, err
	}
	logging.Named("fuse").Info("mounted", zap.String("mountpoint", mountpoint))
	return server, nil
}
