// Package dispatch uploads finalized audio segments to the selected
// transcription provider and reassembles results in capture order.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/capture"
	"vtt-keyboard/internal/domain"
	"vtt-keyboard/internal/provider"
)

// orderedBuffer is how many in-order results may queue before the
// collector waits on the consumer.
const orderedBuffer = 16

// LocalStateFunc reports the current local service lifecycle state.
type LocalStateFunc func() domain.LocalServiceState

// Dispatcher creates per-session upload pipelines. Safe for concurrent
// use; each session gets an isolated reorder buffer and worker set.
type Dispatcher struct {
	client      *http.Client
	localState  LocalStateFunc
	retry       RetryConfig
	log         zerolog.Logger
	newProvider func(domain.Settings) (provider.Provider, error)
}

// NewDispatcher wires the dispatcher. localState gates the local
// provider; a nil func disables the gate.
func NewDispatcher(client *http.Client, localState LocalStateFunc, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		client:     client,
		localState: localState,
		retry:      DefaultRetryConfig(),
		log:        log.With().Str("component", "dispatch").Logger(),
	}
	d.newProvider = func(settings domain.Settings) (provider.Provider, error) {
		return provider.ForSettings(settings, d.client, d.log)
	}
	return d
}

// NewDispatcherForTests wires the dispatcher with an injected provider
// factory.
func NewDispatcherForTests(newProvider func(domain.Settings) (provider.Provider, error), localState LocalStateFunc, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		localState:  localState,
		retry:       DefaultRetryConfig(),
		log:         log,
		newProvider: newProvider,
	}
}

// SetRetryConfig overrides the per-segment retry policy.
func (d *Dispatcher) SetRetryConfig(cfg RetryConfig) {
	d.retry = cfg
}

// Begin opens an upload pipeline for one session. The provider and its
// parameters are snapshotted now; later settings edits do not affect
// segments already submitted to this session.
func (d *Dispatcher) Begin(ctx context.Context, sessionID string, settings domain.Settings) (*SessionDispatch, error) {
	prov, err := d.newProvider(settings)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &SessionDispatch{
		sessionID:   sessionID,
		prov:        prov,
		useLocal:    settings.Provider == domain.ProviderLocal,
		localState:  d.localState,
		retry:       d.retry,
		ctx:         ctx,
		cancel:      cancel,
		log:         d.log.With().Str("session", sessionID).Logger(),
		completions: make(chan Result),
		ordered:     make(chan Result, orderedBuffer),
	}
	go s.collect()
	return s, nil
}

// SessionDispatch is the upload pipeline for one recording session.
type SessionDispatch struct {
	sessionID  string
	prov       provider.Provider
	useLocal   bool
	localState LocalStateFunc
	retry      RetryConfig
	ctx        context.Context
	cancel     context.CancelFunc
	log        zerolog.Logger

	completions chan Result
	ordered     chan Result
	wg          sync.WaitGroup
	finishOnce  sync.Once
}

// Submit hands one finalized segment to a background worker and
// returns immediately. Capture is never blocked on network progress.
func (s *SessionDispatch) Submit(seg domain.AudioSegment) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.completions <- s.process(seg)
	}()
}

// Finish marks that no further segments will be submitted. The ordered
// result channel closes once every in-flight segment has completed.
func (s *SessionDispatch) Finish() {
	s.finishOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.completions)
		}()
	})
}

// Abort cancels in-flight uploads and then finishes. Workers drain
// promptly with cancellation errors.
func (s *SessionDispatch) Abort() {
	s.cancel()
	s.Finish()
}

// Results delivers per-segment outcomes in capture order. The channel
// closes after Finish once all segments have been released.
func (s *SessionDispatch) Results() <-chan Result {
	return s.ordered
}

func (s *SessionDispatch) process(seg domain.AudioSegment) Result {
	res := Result{Sequence: seg.Sequence}

	// The local provider is gated on lifecycle state before any
	// network attempt: a stopped service fails the segment immediately
	// instead of burning the retry budget on connection errors.
	if s.useLocal && s.localState != nil {
		if state := s.localState(); state != domain.LocalStateRunning {
			res.Err = provider.ServiceUnavailable(fmt.Sprintf("local service is %s, not running", state))
			return res
		}
	}

	audio, err := capture.EncodeWAV(seg)
	if err != nil {
		res.Err = provider.Validation("encode segment", err)
		return res
	}

	attempts := 0
	cfg := s.retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		s.log.Warn().Err(err).Int("segment", seg.Sequence).Int("attempt", attempt).
			Dur("backoff", backoff).Msg("segment upload failed, retrying")
		if onRetry != nil {
			onRetry(attempt, err, backoff)
		}
	}

	text, err := retryTranscribe(s.ctx, cfg, func() (string, error) {
		attempts++
		return s.prov.Transcribe(s.ctx, provider.Request{
			FileName:   capture.SegmentFileName(s.sessionID, seg.Sequence),
			Audio:      audio,
			SampleRate: seg.SampleRate,
			Channels:   seg.Channels,
		})
	})
	res.Text = text
	res.Attempts = attempts
	res.Err = err
	return res
}

// collect drains worker completions through the reorder buffer so the
// consumer observes capture order.
func (s *SessionDispatch) collect() {
	defer close(s.ordered)

	buf := newReorderBuffer()
	for res := range s.completions {
		for _, released := range buf.add(res) {
			s.ordered <- released
		}
	}
	if held := buf.held(); held != 0 {
		s.log.Error().Int("held", held).Msg("reorder buffer closed with a sequence gap")
	}
}
