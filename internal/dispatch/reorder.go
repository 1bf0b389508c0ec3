package dispatch

// Result is the terminal outcome for one submitted segment. Failed
// segments carry a non-nil Err and contribute no text.
type Result struct {
	Sequence int
	Text     string
	Attempts int
	Err      error
}

// reorderBuffer releases results in capture order regardless of the
// order transcriptions complete in. A result is released only once the
// full contiguous prefix before it has been released.
type reorderBuffer struct {
	next    int
	pending map[int]Result
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: map[int]Result{}}
}

// add stores one completed result and returns the newly releasable
// contiguous run, possibly empty.
func (b *reorderBuffer) add(res Result) []Result {
	b.pending[res.Sequence] = res

	var out []Result
	for {
		res, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		out = append(out, res)
		b.next++
	}
}

// held reports how many results are waiting on an earlier gap.
func (b *reorderBuffer) held() int {
	return len(b.pending)
}
