// Package session drives the push-to-talk lifecycle: shortcut press
// and release, capture orchestration, transcript assembly, trigger
// resolution, and history emission.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vtt-keyboard/internal/dispatch"
	"vtt-keyboard/internal/domain"
	"vtt-keyboard/internal/events"
	"vtt-keyboard/internal/trigger"
)

// Recorder is the audio capture surface the controller drives.
type Recorder interface {
	Start(cfg domain.RecordingSettings, emit func(domain.AudioSegment), fail func(error)) error
	Stop()
}

// HistorySink receives the append-only record of every completed
// session attempt.
type HistorySink interface {
	Append(item domain.HistoryItem) error
}

// SettingsFunc returns the current settings snapshot. It is read once
// per session at press time.
type SettingsFunc func() domain.Settings

// Controller is the top-level push-to-talk state machine. One session
// records at a time; sessions released earlier may still be
// finalizing concurrently while a new one records.
type Controller struct {
	recorder   Recorder
	dispatcher *dispatch.Dispatcher
	settings   SettingsFunc
	history    HistorySink
	bus        *events.Bus
	log        zerolog.Logger

	mu     sync.Mutex
	active *activeSession

	finalizers sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// activeSession is the currently recording session.
type activeSession struct {
	id       string
	status   domain.SessionStatus
	started  time.Time
	dispatch *dispatch.SessionDispatch
	triggers []domain.TriggerCard
}

// NewController wires the session controller.
func NewController(recorder Recorder, dispatcher *dispatch.Dispatcher, settings SettingsFunc, history HistorySink, bus *events.Bus, log zerolog.Logger) *Controller {
	return &Controller{
		recorder:   recorder,
		dispatcher: dispatcher,
		settings:   settings,
		history:    history,
		bus:        bus,
		log:        log.With().Str("component", "session").Logger(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Press starts a new recording session. A press while already
// recording is ignored; a press while a previous session is still
// finalizing starts a new independent session.
func (c *Controller) Press() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		// No nested sessions.
		return nil
	}

	settings := c.settings()
	sessionID := c.newID()

	sd, err := c.dispatcher.Begin(context.Background(), sessionID, settings)
	if err != nil {
		c.publishError(sessionID, err)
		return err
	}

	session := &activeSession{
		id:       sessionID,
		status:   domain.SessionStatusRecording,
		started:  c.now(),
		dispatch: sd,
		triggers: settings.Triggers,
	}

	emit := func(seg domain.AudioSegment) {
		sd.Submit(seg)
	}
	fail := func(err error) {
		// Runs on the capture goroutine; aborting synchronously here
		// would deadlock against Recorder.Stop.
		go c.abort(session, err)
	}

	if err := c.recorder.Start(settings.Recording, emit, fail); err != nil {
		sd.Abort()
		transitionSession(session, domain.SessionStatusAborting)
		c.finishFailed(session, err)
		return err
	}

	c.active = session
	c.publishStatus(sessionID, domain.SessionStatusRecording)
	c.log.Info().Str("session", sessionID).Msg("recording started")
	return nil
}

// Release ends capture for the active session and finalizes it in the
// background. A release with no active session is ignored.
func (c *Controller) Release() {
	c.mu.Lock()
	session := c.active
	if session == nil || !transitionSession(session, domain.SessionStatusFinalizing) {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	// Stop blocks until the trailing partial segment is emitted, so
	// every segment is submitted before the pipeline is sealed.
	c.recorder.Stop()
	session.dispatch.Finish()

	c.publishStatus(session.id, domain.SessionStatusFinalizing)
	c.log.Info().Str("session", session.id).Msg("recording stopped, finalizing")

	c.finalizers.Add(1)
	go func() {
		defer c.finalizers.Done()
		c.finalize(session)
	}()
}

// Cancel aborts the active session without producing a transcript
// beyond a failed history record.
func (c *Controller) Cancel() {
	c.mu.Lock()
	session := c.active
	c.mu.Unlock()
	if session != nil {
		c.abort(session, nil)
	}
}

// Wait blocks until all in-flight finalizers have completed.
func (c *Controller) Wait() {
	c.finalizers.Wait()
}

// Recording reports whether a session is actively capturing.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// abort tears down a session on device failure or explicit cancel.
func (c *Controller) abort(session *activeSession, cause error) {
	c.mu.Lock()
	if c.active != session || !transitionSession(session, domain.SessionStatusAborting) {
		c.mu.Unlock()
		return
	}
	c.active = nil
	// Register the finalizer before the session stops being observable
	// as active, so Wait cannot return early.
	c.finalizers.Add(1)
	c.mu.Unlock()

	c.recorder.Stop()
	session.dispatch.Abort()
	c.publishStatus(session.id, domain.SessionStatusAborting)

	go func() {
		defer c.finalizers.Done()
		// Drain so workers are not leaked.
		for range session.dispatch.Results() {
		}
		c.finishFailed(session, cause)
	}()
}

// finalize assembles the transcript in capture order, resolves
// triggers, and emits the history record.
func (c *Controller) finalize(session *activeSession) {
	var parts []string
	var failed int
	var firstErr error
	for res := range session.dispatch.Results() {
		if res.Err != nil {
			// A failed segment keeps its position as an empty span;
			// the session still completes with what succeeded.
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
			parts = append(parts, "")
			c.log.Warn().Str("session", session.id).Int("segment", res.Sequence).
				Err(res.Err).Msg("segment failed")
			continue
		}
		parts = append(parts, strings.TrimSpace(res.Text))
	}

	transcript := joinSpans(parts)

	if len(parts) > 0 && failed == len(parts) {
		c.finishFailed(session, firstErr)
		return
	}

	resolved := trigger.Resolve(transcript, session.triggers)
	item := domain.HistoryItem{
		ID:         c.newID(),
		SessionID:  session.id,
		CreatedAt:  c.now(),
		Status:     domain.HistoryStatusSuccess,
		Transcript: transcript,
		FinalText:  resolved.FinalText,
		Matches:    resolved.Matches,
	}
	if firstErr != nil {
		item.ErrorMessage = firstErr.Error()
	}
	c.emitHistory(session, item)
}

// finishFailed closes a session with a failed history record.
func (c *Controller) finishFailed(session *activeSession, cause error) {
	item := domain.HistoryItem{
		ID:        c.newID(),
		SessionID: session.id,
		CreatedAt: c.now(),
		Status:    domain.HistoryStatusFailed,
	}
	if cause != nil {
		item.ErrorMessage = cause.Error()
		c.publishError(session.id, cause)
	}
	c.emitHistory(session, item)
}

func (c *Controller) emitHistory(session *activeSession, item domain.HistoryItem) {
	transitionSession(session, domain.SessionStatusIdle)

	if c.history != nil {
		if err := c.history.Append(item); err != nil {
			c.log.Error().Err(err).Str("session", session.id).Msg("history append failed")
		}
	}
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:      events.TypeHistory,
			SessionID: session.id,
			Status:    domain.SessionStatusIdle,
			History:   &item,
		})
	}
	c.log.Info().Str("session", session.id).Str("status", string(item.Status)).Msg("session closed")
}

func (c *Controller) publishStatus(sessionID string, status domain.SessionStatus) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type:      events.TypeStatus,
		SessionID: sessionID,
		Status:    status,
	})
}

func (c *Controller) publishError(sessionID string, err error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type:      events.TypeError,
		SessionID: sessionID,
		Message:   err.Error(),
	})
}

// joinSpans joins segment texts in order, dropping empty spans from
// the rendered transcript while preserving relative order.
func joinSpans(parts []string) string {
	var nonEmpty []string
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// transitionSession applies one session status edge, rejecting
// invalid moves.
func transitionSession(s *activeSession, to domain.SessionStatus) bool {
	if s.status == to {
		return false
	}
	if !isValidTransition(s.status, to) {
		return false
	}
	s.status = to
	return true
}

// isValidTransition enforces the session state machine edges.
func isValidTransition(from, to domain.SessionStatus) bool {
	switch from {
	case domain.SessionStatusIdle:
		return to == domain.SessionStatusRecording
	case domain.SessionStatusRecording:
		return to == domain.SessionStatusFinalizing || to == domain.SessionStatusAborting
	case domain.SessionStatusFinalizing:
		return to == domain.SessionStatusIdle
	case domain.SessionStatusAborting:
		return to == domain.SessionStatusIdle
	default:
		return false
	}
}
