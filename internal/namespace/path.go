package namespace

import (
	"fmt"
	"strings"
)

// Kind classifies what a path resolves to.
type Kind int

const (
	KindNotFound Kind = iota
	KindDirectory
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "not-found"
	}
}

// tokenize splits an absolute path into its non-empty segments. Repeated
// slashes collapse and "/" yields no segments.
func tokenize(p string) ([]string, error) {
	if p == "" {
		return nil, fmt.Errorf("empty path: %w", ErrInvalid)
	}
	if p[0] != '/' {
		return nil, fmt.Errorf("path %q is not absolute: %w", p, ErrInvalid)
	}
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' }), nil
}

// SplitPath returns the parent path and the final segment of p. The root
// splits into "/" and "".
func SplitPath(p string) (parent, name string, err error) {
	segs, err := tokenize(p)
	if err != nil {
		return "", "", err
	}
	if len(segs) == 0 {
		return "/", "", nil
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// ChildPath joins a directory path and an entry name.
func ChildPath(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// resolution is the outcome of walking a path. It holds arena refs and is
// only meaningful while the namespace lock taken for the walk is held.
type resolution struct {
	kind Kind
	dir  ref
	file ref

	// parent is set whenever every segment before the last resolved to a
	// directory, including when the final segment itself is missing.
	parent    ref
	hasParent bool

	// throughFile records that a non-final segment named a file.
	throughFile bool

	name  string
	index int
}

// missing returns the error for a path that did not resolve.
func (r resolution) missing() error {
	if r.throughFile {
		return wrongKind(ErrNotDir)
	}
	return ErrNotFound
}

// resolve walks p from the root. Non-final segments are matched against
// child directories only; the final segment is matched against child
// directories first and then child files. Must be called with ns.mu held.
func (ns *Namespace) resolve(p string) (resolution, error) {
	segs, err := tokenize(p)
	if err != nil {
		return resolution{}, err
	}
	if len(segs) == 0 {
		return resolution{kind: KindDirectory, dir: ns.root}, nil
	}

	cur := ns.root
	for _, seg := range segs[:len(segs)-1] {
		d := ns.dirs.get(cur)
		_, next, ok := ns.findDir(d, seg)
		if !ok {
			_, _, isFile := ns.findFile(d, seg)
			return resolution{kind: KindNotFound, throughFile: isFile}, nil
		}
		cur = next
	}

	name := segs[len(segs)-1]
	res := resolution{parent: cur, hasParent: true, name: name}
	d := ns.dirs.get(cur)
	if i, r, ok := ns.findDir(d, name); ok {
		res.kind, res.dir, res.index = KindDirectory, r, i
		return res, nil
	}
	if i, r, ok := ns.findFile(d, name); ok {
		res.kind, res.file, res.index = KindFile, r, i
		return res, nil
	}
	res.kind = KindNotFound
	return res, nil
}

func (ns *Namespace) findDir(d *directory, name string) (int, ref, bool) {
	for i, r := range d.dirs.refs {
		if ns.dirs.get(r).name == name {
			return i, r, true
		}
	}
	return -1, ref{}, false
}

func (ns *Namespace) findFile(d *directory, name string) (int, ref, bool) {
	for i, r := range d.files.refs {
		if ns.files.get(r).name == name {
			return i, r, true
		}
	}
	return -1, ref{}, false
}
