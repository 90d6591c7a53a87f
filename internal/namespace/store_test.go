package namespace

import (
	"errors"
	"testing"
)

func TestNextCapacity(t *testing.T) {
	tests := []struct {
		capacity, limit int
		want            int
		wantErr         bool
	}{
		{0, MaxEntries, 10, false},
		{10, MaxEntries, 100, false},
		{100, MaxEntries, 1000, false},
		{MaxEntries / 10, MaxEntries, MaxEntries / 10 * 10, false},
		{MaxEntries/10 + 1, MaxEntries, MaxEntries, false},
		{MaxEntries, MaxEntries, 0, true},
		{10, 15, 15, false},
		{15, 15, 0, true},
		{0, 5, 5, false},
	}
	for _, tt := range tests {
		got, err := nextCapacity(tt.capacity, tt.limit)
		if tt.wantErr {
			if !errors.Is(err, ErrNoMemory) {
				t.Errorf("nextCapacity(%d, %d) error = %v, want ErrNoMemory", tt.capacity, tt.limit, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("nextCapacity(%d, %d) unexpected error: %v", tt.capacity, tt.limit, err)
			continue
		}
		if got != tt.want {
			t.Errorf("nextCapacity(%d, %d) = %d, want %d", tt.capacity, tt.limit, got, tt.want)
		}
	}
}

func TestEntryListGrowth(t *testing.T) {
	l := newEntryList(MaxEntries)
	if l.capacity != InitialCapacity {
		t.Fatalf("initial capacity = %d, want %d", l.capacity, InitialCapacity)
	}

	wantCap := map[int]int{1: 10, 10: 10, 11: 100, 100: 100, 101: 1000}
	for i := 1; i <= 101; i++ {
		if err := l.insert(ref{index: uint32(i), gen: 1}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if want, ok := wantCap[i]; ok && l.capacity != want {
			t.Errorf("capacity after %d inserts = %d, want %d", i, l.capacity, want)
		}
		if l.len() > l.capacity {
			t.Fatalf("len %d exceeds capacity %d", l.len(), l.capacity)
		}
	}
	for i, r := range l.refs {
		if r.index != uint32(i+1) {
			t.Fatalf("refs[%d] = %v after growth, want index %d", i, r, i+1)
		}
	}
}

func TestEntryListSwapRemove(t *testing.T) {
	l := newEntryList(MaxEntries)
	for i := range 5 {
		_ = l.insert(ref{index: uint32(i), gen: 1})
	}

	if moved := l.swapRemove(1); !moved {
		t.Error("swapRemove(1) moved = false, want true")
	}
	want := []uint32{0, 4, 2, 3}
	if l.len() != len(want) {
		t.Fatalf("len = %d, want %d", l.len(), len(want))
	}
	for i, idx := range want {
		if l.refs[i].index != idx {
			t.Errorf("refs[%d].index = %d, want %d", i, l.refs[i].index, idx)
		}
	}

	if moved := l.swapRemove(l.len() - 1); moved {
		t.Error("removing the last entry reported a move")
	}
	if l.len() != 3 {
		t.Errorf("len = %d, want 3", l.len())
	}
}

func TestArenaGenerations(t *testing.T) {
	var a arena[string]
	v1, v2 := "one", "two"

	r1 := a.alloc(&v1)
	if got := a.get(r1); got == nil || *got != "one" {
		t.Fatalf("get(r1) = %v, want one", got)
	}
	if !a.release(r1) {
		t.Fatal("release(r1) = false")
	}
	if a.release(r1) {
		t.Error("second release(r1) = true")
	}

	r2 := a.alloc(&v2)
	if r2.index != r1.index {
		t.Fatalf("slot not reused: %v vs %v", r2, r1)
	}
	if a.get(r1) != nil {
		t.Error("stale ref resolved after slot reuse")
	}
	if got := a.get(r2); got == nil || *got != "two" {
		t.Errorf("get(r2) = %v, want two", got)
	}
	if a.get(ref{}) != nil {
		t.Error("zero ref resolved")
	}
	if a.live != 1 {
		t.Errorf("live = %d, want 1", a.live)
	}
}

func TestBufferTruncateZeroFills(t *testing.T) {
	var b buffer
	if err := b.appendData([]byte("abcdef"), 0); err != nil {
		t.Fatal(err)
	}
	if err := b.truncate(2, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.truncate(6, 0); err != nil {
		t.Fatal(err)
	}
	if b.allocated() != 6 || b.size != 6 {
		t.Fatalf("allocated=%d size=%d, want 6 and 6", b.allocated(), b.size)
	}
	if got := string(b.data); got != "ab\x00\x00\x00\x00" {
		t.Errorf("data = %q, want ab followed by zeros", got)
	}
}
