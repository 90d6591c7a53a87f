package namespace

import (
	"fmt"
	"math"
)

// buffer is a file's content. len(data) is the allocated size and size
// the logical one; bytes past size are always zero.
type buffer struct {
	data []byte
	size int
}

func (b *buffer) allocated() int { return len(b.data) }

// reserve makes room for need bytes, growing geometrically so repeated
// appends stay cheap. limit caps the allocation when positive.
func (b *buffer) reserve(need int64, limit int64) error {
	if need < 0 || need > math.MaxInt {
		return fmt.Errorf("content size %d overflows: %w", need, ErrNoMemory)
	}
	if limit > 0 && need > limit {
		return fmt.Errorf("content size %d exceeds limit %d: %w", need, limit, ErrNoMemory)
	}
	if int(need) <= len(b.data) {
		return nil
	}
	next := int64(len(b.data)) * 2
	if next < need {
		next = need
	}
	if limit > 0 && next > limit {
		next = limit
	}
	if next > math.MaxInt {
		next = need
	}
	grown := make([]byte, int(next))
	copy(grown, b.data[:b.size])
	b.data = grown
	return nil
}

// appendData places p at the current logical end.
func (b *buffer) appendData(p []byte, limit int64) error {
	if err := b.reserve(int64(b.size)+int64(len(p)), limit); err != nil {
		return err
	}
	copy(b.data[b.size:], p)
	b.size += len(p)
	return nil
}

// writeAt places p at off, zero-filling any gap past the logical end.
func (b *buffer) writeAt(p []byte, off int64, limit int64) error {
	if off < 0 {
		return fmt.Errorf("negative offset %d: %w", off, ErrInvalid)
	}
	if off > math.MaxInt64-int64(len(p)) {
		return fmt.Errorf("write past %d overflows: %w", off, ErrNoMemory)
	}
	end := off + int64(len(p))
	if err := b.reserve(end, limit); err != nil {
		return err
	}
	if int(off) > b.size {
		clear(b.data[b.size:off])
	}
	copy(b.data[off:], p)
	if int(end) > b.size {
		b.size = int(end)
	}
	return nil
}

// truncate reallocates the buffer to exactly n bytes and makes n the
// logical size. Bytes exposed by growing read as zero.
func (b *buffer) truncate(n int64, limit int64) error {
	if n < 0 {
		return fmt.Errorf("negative length %d: %w", n, ErrInvalid)
	}
	if n > math.MaxInt {
		return fmt.Errorf("length %d overflows: %w", n, ErrNoMemory)
	}
	if limit > 0 && n > limit {
		return fmt.Errorf("length %d exceeds limit %d: %w", n, limit, ErrNoMemory)
	}
	resized := make([]byte, int(n))
	copy(resized, b.data[:min(b.size, int(n))])
	b.data = resized
	b.size = int(n)
	return nil
}

// readAt copies up to len(dst) bytes starting at off. Reads at or past
// the logical end return 0.
func (b *buffer) readAt(dst []byte, off int64) int {
	if off >= int64(b.size) {
		return 0
	}
	return copy(dst, b.data[off:b.size])
}

func (b *buffer) release() {
	b.data = nil
	b.size = 0
}
