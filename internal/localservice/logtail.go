package localservice

import "sync"

// defaultLogCapacity bounds retained container log lines.
const defaultLogCapacity = 500

// logRing keeps the most recent container log lines for the UI's
// runtime log panel.
type logRing struct {
	mu       sync.Mutex
	capacity int
	lines    []string
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &logRing{capacity: capacity}
}

// Append records one line, evicting the oldest when full.
func (r *logRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if overflow := len(r.lines) - r.capacity; overflow > 0 {
		r.lines = r.lines[overflow:]
	}
}

// Lines returns a snapshot of the retained lines, oldest first.
func (r *logRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Reset discards all retained lines.
func (r *logRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}
