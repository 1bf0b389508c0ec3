package dispatch

import "testing"

func TestReorderBufferContiguousRelease(t *testing.T) {
	buf := newReorderBuffer()

	if got := buf.add(Result{Sequence: 2}); len(got) != 0 {
		t.Fatalf("releasing %v before the prefix arrived", got)
	}
	if got := buf.add(Result{Sequence: 1}); len(got) != 0 {
		t.Fatalf("releasing %v before the prefix arrived", got)
	}
	if buf.held() != 2 {
		t.Fatalf("held = %d, want 2", buf.held())
	}

	got := buf.add(Result{Sequence: 0})
	if len(got) != 3 {
		t.Fatalf("released %d results, want 3", len(got))
	}
	for i, res := range got {
		if res.Sequence != i {
			t.Fatalf("release order %v", got)
		}
	}
	if buf.held() != 0 {
		t.Fatalf("held = %d after full release", buf.held())
	}

	if got := buf.add(Result{Sequence: 3}); len(got) != 1 || got[0].Sequence != 3 {
		t.Fatalf("next contiguous result not released: %v", got)
	}
}
