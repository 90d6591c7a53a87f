package namespace

import (
	"errors"
	"syscall"
	"testing"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in         string
		wantParent string
		wantName   string
		wantErr    bool
	}{
		{"/", "/", "", false},
		{"/a", "/", "a", false},
		{"/a/b", "/a", "b", false},
		{"/a/b/c", "/a/b", "c", false},
		{"//a///b/", "/a", "b", false},
		{"", "", "", true},
		{"a/b", "", "", true},
	}
	for _, tt := range tests {
		parent, name, err := SplitPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if parent != tt.wantParent || name != tt.wantName {
			t.Errorf("SplitPath(%q) = (%q, %q), want (%q, %q)", tt.in, parent, name, tt.wantParent, tt.wantName)
		}
	}
}

func TestChildPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"/", "a", "/a"},
		{"", "a", "/a"},
		{"/a", "b", "/a/b"},
		{"/a/", "b", "/a/b"},
	}
	for _, tt := range tests {
		if got := ChildPath(tt.parent, tt.name); got != tt.want {
			t.Errorf("ChildPath(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	ns := New(Options{})
	if err := ns.Mkdir("/a", 0); err != nil {
		t.Fatal(err)
	}
	if err := ns.Mkdir("/a/b", 0); err != nil {
		t.Fatal(err)
	}
	if err := ns.Mknod("/a/f", 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path            string
		wantKind        Kind
		wantParent      bool
		wantThroughFile bool
	}{
		{"/", KindDirectory, false, false},
		{"/a", KindDirectory, true, false},
		{"/a/b", KindDirectory, true, false},
		{"/a/f", KindFile, true, false},
		{"/a/missing", KindNotFound, true, false},
		{"/missing/x", KindNotFound, false, false},
		{"/a/f/x", KindNotFound, false, true},
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()
	for _, tt := range tests {
		res, err := ns.resolve(tt.path)
		if err != nil {
			t.Errorf("resolve(%q) unexpected error: %v", tt.path, err)
			continue
		}
		if res.kind != tt.wantKind {
			t.Errorf("resolve(%q).kind = %v, want %v", tt.path, res.kind, tt.wantKind)
		}
		if res.hasParent != tt.wantParent {
			t.Errorf("resolve(%q).hasParent = %v, want %v", tt.path, res.hasParent, tt.wantParent)
		}
		if res.throughFile != tt.wantThroughFile {
			t.Errorf("resolve(%q).throughFile = %v, want %v", tt.path, res.throughFile, tt.wantThroughFile)
		}
	}
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err   error
		want  syscall.Errno
		label string
	}{
		{nil, 0, "ok"},
		{ErrNotFound, syscall.ENOENT, "not_found"},
		{ErrExist, syscall.EEXIST, "exists"},
		{ErrNotEmpty, syscall.ENOTEMPTY, "not_empty"},
		{ErrIsDir, syscall.EISDIR, "is_dir"},
		{ErrNotDir, syscall.ENOTDIR, "not_dir"},
		{wrongKind(ErrIsDir), syscall.ENOENT, "is_dir"},
		{wrongKind(ErrNotDir), syscall.ENOENT, "not_dir"},
		{ErrNoMemory, syscall.ENOMEM, "no_memory"},
		{ErrInvalidHandle, syscall.ENOENT, "stale_handle"},
		{ErrInvalid, syscall.EINVAL, "invalid"},
		{ErrBusy, syscall.EBUSY, "busy"},
		{errors.New("boom"), syscall.EIO, "error"},
	}
	for _, tt := range tests {
		if got := Errno(tt.err); got != tt.want {
			t.Errorf("Errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
		if got := ResultLabel(tt.err); got != tt.label {
			t.Errorf("ResultLabel(%v) = %q, want %q", tt.err, got, tt.label)
		}
	}
}
