package domain

import "time"

// SessionStatus tracks one push-to-talk recording session.
type SessionStatus string

const (
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusRecording  SessionStatus = "recording"
	SessionStatusFinalizing SessionStatus = "finalizing"
	SessionStatusAborting   SessionStatus = "aborting"
)

// AudioSegment is a bounded slice of captured audio handed to
// transcription as one unit. Immutable once finalized by the segmenter.
type AudioSegment struct {
	Sequence   int
	Samples    []int16
	SampleRate int
	Channels   int
	Duration   time.Duration
	CapturedAt time.Time
}

// HistoryStatus marks the terminal outcome of a session attempt.
type HistoryStatus string

const (
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusFailed  HistoryStatus = "failed"
)

// HistoryItem is the append-only record of a completed session attempt.
// Never mutated after creation.
type HistoryItem struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionId"`
	CreatedAt    time.Time      `json:"createdAt"`
	Status       HistoryStatus  `json:"status"`
	Transcript   string         `json:"transcript"`
	FinalText    string         `json:"finalText"`
	Matches      []TriggerMatch `json:"matches,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}
