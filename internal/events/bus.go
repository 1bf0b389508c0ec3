package events

import (
	"sync"
	"time"

	"vtt-keyboard/internal/domain"
)

// Type classifies messages emitted by the core pipeline.
type Type string

const (
	TypeStatus     Type = "status"
	TypeProgress   Type = "progress"
	TypeRuntimeLog Type = "runtime-log"
	TypeHistory    Type = "history"
	TypeError      Type = "error"
)

// Event is a sequenced payload consumed by the UI boundary. The core
// publishes events and never depends on a subscriber being present.
type Event struct {
	Seq       int64                        `json:"seq"`
	Timestamp time.Time                    `json:"timestamp"`
	Type      Type                         `json:"type"`
	SessionID string                       `json:"sessionId,omitempty"`
	Status    domain.SessionStatus         `json:"status,omitempty"`
	Message   string                       `json:"message,omitempty"`
	Progress  *domain.LocalServiceProgress `json:"progress,omitempty"`
	History   *domain.HistoryItem          `json:"history,omitempty"`
	LogLine   string                       `json:"logLine,omitempty"`
	LogStream string                       `json:"logStream,omitempty"`
}

// Bus stores recent events and fans them out to subscribers.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      []chan Event
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event, assigns sequence and timestamp, and
// delivers it to subscribers. Slow subscribers drop events rather than
// block the publisher.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	subs := make([]chan Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- event:
		default:
		}
	}
	return event
}

// Subscribe registers a buffered channel receiving future events.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a previously registered channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
