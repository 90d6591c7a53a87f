package namespace

import (
	"fmt"
	"math"
	"time"
)

const (
	// InitialCapacity is the number of entries a fresh child list can
	// hold before it first grows.
	InitialCapacity = 10

	// GrowthFactor multiplies a child list's capacity when an insert
	// would exceed it.
	GrowthFactor = 10

	// MaxEntries bounds the capacity of a single child list.
	MaxEntries = math.MaxInt32
)

// ref names an arena slot. The generation changes every time the slot is
// released, so a ref kept past the removal of its entry never resolves
// to whatever reuses the slot. The zero ref is never issued.
type ref struct {
	index uint32
	gen   uint32
}

type slot[T any] struct {
	gen uint32
	val *T
}

// arena stores entries behind stable indices. Child lists hold refs into
// an arena, so growing or reordering a list never moves an entry.
type arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *arena[T]) alloc(v *T) ref {
	a.live++
	if n := len(a.free); n > 0 {
		i := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[i].val = v
		return ref{index: i, gen: a.slots[i].gen}
	}
	a.slots = append(a.slots, slot[T]{gen: 1, val: v})
	return ref{index: uint32(len(a.slots) - 1), gen: 1}
}

// get returns the entry for r, or nil when r is stale or was never issued.
func (a *arena[T]) get(r ref) *T {
	if int(r.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[r.index]
	if s.gen != r.gen || s.val == nil {
		return nil
	}
	return s.val
}

// release frees the slot behind r and invalidates every copy of r.
func (a *arena[T]) release(r ref) bool {
	if a.get(r) == nil {
		return false
	}
	s := &a.slots[r.index]
	s.val = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, r.index)
	a.live--
	return true
}

// entryList is an ordered collection of child refs with an explicit
// capacity that grows by GrowthFactor. Removal swaps the last entry into
// the vacated position.
type entryList struct {
	refs     []ref
	capacity int
	limit    int
}

func newEntryList(limit int) entryList {
	capacity := InitialCapacity
	if capacity > limit {
		capacity = limit
	}
	return entryList{
		refs:     make([]ref, 0, capacity),
		capacity: capacity,
		limit:    limit,
	}
}

func (l *entryList) len() int { return len(l.refs) }

// nextCapacity returns the capacity after one growth step. A step that
// would pass limit is clamped to it; a list already at limit cannot grow.
func nextCapacity(capacity, limit int) (int, error) {
	if capacity >= limit {
		return 0, fmt.Errorf("child list at maximum capacity %d: %w", limit, ErrNoMemory)
	}
	if capacity < 1 {
		return min(InitialCapacity, limit), nil
	}
	if capacity > limit/GrowthFactor {
		return limit, nil
	}
	return capacity * GrowthFactor, nil
}

func (l *entryList) insert(r ref) error {
	if len(l.refs) == l.capacity {
		next, err := nextCapacity(l.capacity, l.limit)
		if err != nil {
			return err
		}
		grown := make([]ref, len(l.refs), next)
		copy(grown, l.refs)
		l.refs = grown
		l.capacity = next
	}
	l.refs = append(l.refs, r)
	return nil
}

// swapRemove drops the entry at i by moving the last entry into its place.
// It reports whether an entry was moved.
func (l *entryList) swapRemove(i int) bool {
	last := len(l.refs) - 1
	moved := i != last
	if moved {
		l.refs[i] = l.refs[last]
	}
	l.refs[last] = ref{}
	l.refs = l.refs[:last]
	return moved
}

type directory struct {
	name  string
	mode  uint32
	atime time.Time
	mtime time.Time

	parent ref
	dirs   entryList
	files  entryList
}

func (d *directory) empty() bool {
	return d.dirs.len() == 0 && d.files.len() == 0
}

type file struct {
	name  string
	mode  uint32
	atime time.Time
	mtime time.Time

	parent  ref
	content buffer
}
