package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
	"vtt-keyboard/internal/provider"
)

// scriptedProvider controls per-sequence completion timing and errors.
type scriptedProvider struct {
	mu       sync.Mutex
	delays   map[int]time.Duration
	failures map[int][]error
	calls    map[int]int
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		delays:   map[int]time.Duration{},
		failures: map[int][]error{},
		calls:    map[int]int{},
	}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Transcribe(ctx context.Context, req provider.Request) (string, error) {
	seq := sequenceFromFileName(req.FileName)

	p.mu.Lock()
	p.calls[seq]++
	delay := p.delays[seq]
	var err error
	if pending := p.failures[seq]; len(pending) > 0 {
		err = pending[0]
		p.failures[seq] = pending[1:]
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("text-%d", seq), nil
}

func (p *scriptedProvider) callCount(seq int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[seq]
}

func sequenceFromFileName(name string) int {
	// Names look like <session>-seg-007.wav.
	i := strings.LastIndex(name, "-seg-")
	var seq int
	fmt.Sscanf(name[i+len("-seg-"):], "%03d", &seq)
	return seq
}

func testDispatcher(prov provider.Provider, localState LocalStateFunc) *Dispatcher {
	d := NewDispatcherForTests(func(domain.Settings) (provider.Provider, error) {
		return prov, nil
	}, localState, zerolog.Nop())
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	d.SetRetryConfig(cfg)
	return d
}

func segment(seq int) domain.AudioSegment {
	return domain.AudioSegment{
		Sequence:   seq,
		Samples:    make([]int16, 160),
		SampleRate: 16000,
		Channels:   1,
	}
}

func collectAll(t *testing.T, s *SessionDispatch) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-s.Results():
			if !ok {
				return out
			}
			out = append(out, res)
		case <-timeout:
			t.Fatalf("timed out with %d results", len(out))
		}
	}
}

func TestDispatchReordersCompletions(t *testing.T) {
	prov := newScriptedProvider()
	// Later segments complete first.
	prov.delays[0] = 40 * time.Millisecond
	prov.delays[1] = 20 * time.Millisecond

	d := testDispatcher(prov, nil)
	s, err := d.Begin(context.Background(), "sess-1", domain.Settings{Provider: domain.ProviderOpenAI})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	for seq := 0; seq < 4; seq++ {
		s.Submit(segment(seq))
	}
	s.Finish()

	results := collectAll(t, s)
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	for i, res := range results {
		if res.Sequence != i {
			t.Fatalf("result %d has sequence %d", i, res.Sequence)
		}
		if res.Err != nil {
			t.Fatalf("segment %d failed: %v", i, res.Err)
		}
		if want := fmt.Sprintf("text-%d", i); res.Text != want {
			t.Fatalf("segment %d text = %q", i, res.Text)
		}
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	prov := newScriptedProvider()
	prov.failures[0] = []error{
		provider.Transient("connection reset", nil),
		provider.Transient("connection reset", nil),
	}

	d := testDispatcher(prov, nil)
	s, err := d.Begin(context.Background(), "sess-2", domain.Settings{Provider: domain.ProviderOpenAI})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Submit(segment(0))
	s.Finish()

	results := collectAll(t, s)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if got := prov.callCount(0); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDispatchDoesNotRetryValidationErrors(t *testing.T) {
	prov := newScriptedProvider()
	prov.failures[0] = []error{provider.Validation("bad api key", nil)}

	d := testDispatcher(prov, nil)
	s, err := d.Begin(context.Background(), "sess-3", domain.Settings{Provider: domain.ProviderOpenAI})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Submit(segment(0))
	s.Finish()

	results := collectAll(t, s)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if provider.KindOf(results[0].Err) != provider.KindValidation {
		t.Fatalf("err = %v, want validation", results[0].Err)
	}
	if got := prov.callCount(0); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestDispatchFailedSegmentDoesNotBlockOthers(t *testing.T) {
	prov := newScriptedProvider()
	prov.failures[1] = []error{
		provider.Transient("reset", nil),
		provider.Transient("reset", nil),
		provider.Transient("reset", nil),
	}

	d := testDispatcher(prov, nil)
	s, err := d.Begin(context.Background(), "sess-4", domain.Settings{Provider: domain.ProviderOpenAI})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for seq := 0; seq < 3; seq++ {
		s.Submit(segment(seq))
	}
	s.Finish()

	results := collectAll(t, s)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[1].Err == nil {
		t.Fatal("segment 1 should have exhausted its retries")
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("neighbors failed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[2].Sequence != 2 {
		t.Fatalf("last sequence = %d", results[2].Sequence)
	}
}

func TestDispatchLocalProviderGatedOnLifecycle(t *testing.T) {
	prov := newScriptedProvider()
	state := domain.LocalStateStopped
	d := testDispatcher(prov, func() domain.LocalServiceState { return state })

	s, err := d.Begin(context.Background(), "sess-5", domain.Settings{Provider: domain.ProviderLocal})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Submit(segment(0))
	s.Finish()

	results := collectAll(t, s)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if provider.KindOf(results[0].Err) != provider.KindServiceUnavailable {
		t.Fatalf("err = %v, want service unavailable", results[0].Err)
	}
	if got := prov.callCount(0); got != 0 {
		t.Fatalf("provider was called %d times for a stopped service", got)
	}
}

func TestDispatchAbortCancelsInFlight(t *testing.T) {
	prov := newScriptedProvider()
	prov.delays[0] = 10 * time.Second

	d := testDispatcher(prov, nil)
	s, err := d.Begin(context.Background(), "sess-6", domain.Settings{Provider: domain.ProviderOpenAI})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Submit(segment(0))
	s.Abort()

	results := collectAll(t, s)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("results = %+v, want one canceled segment", results)
	}
}
