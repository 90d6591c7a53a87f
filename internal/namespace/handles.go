package namespace

// Handle is the caller-visible token for an open file. Handles are never
// reused; 0 is never issued.
type Handle uint64

// handleTable binds handles to file refs. A handle outlives its file if
// the file is unlinked while open; the ref's generation check then makes
// every lookup through it fail.
type handleTable struct {
	next Handle
	open map[Handle]ref
}

func newHandleTable() handleTable {
	return handleTable{open: make(map[Handle]ref)}
}

func (t *handleTable) issue(r ref) Handle {
	t.next++
	t.open[t.next] = r
	return t.next
}

func (t *handleTable) lookup(h Handle) (ref, bool) {
	r, ok := t.open[h]
	return r, ok
}

func (t *handleTable) release(h Handle) {
	delete(t.open, h)
}

func (t *handleTable) count() int {
	return len(t.open)
}
