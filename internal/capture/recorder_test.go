package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
	"vtt-keyboard/internal/provider"
)

// fakeStream produces a fixed number of frames, then blocks Read until
// the recorder stops it.
type fakeStream struct {
	buf      []int16
	frames   int
	read     int
	readErr  error
	startErr error

	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) Start() error { return s.startErr }

func (s *fakeStream) Read() error {
	if s.readErr != nil {
		return s.readErr
	}
	if s.read >= s.frames {
		// Mimic a device with no more data: slow reads until stopped.
		time.Sleep(time.Millisecond)
		for i := range s.buf {
			s.buf[i] = 0
		}
		return nil
	}
	for i := range s.buf {
		s.buf[i] = int16(s.read + 1)
	}
	s.read++
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) Close() error { return nil }

func TestRecorderEmitsFinalSegmentOnStop(t *testing.T) {
	stream := &fakeStream{frames: 4}
	rec := NewRecorderForTests(func(channels, sampleRate int, buf []int16) (audioStream, func(), error) {
		stream.buf = buf
		return stream, nil, nil
	}, zerolog.Nop())

	var mu sync.Mutex
	var segs []domain.AudioSegment
	emit := func(seg domain.AudioSegment) {
		mu.Lock()
		segs = append(segs, seg)
		mu.Unlock()
	}

	cfg := domain.RecordingSettings{SegmentSeconds: 60, SampleRate: 16000, Channels: 1}
	if err := rec.Start(cfg, emit, func(error) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the read loop time to drain the scripted frames.
	time.Sleep(50 * time.Millisecond)
	rec.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(segs) == 0 {
		t.Fatal("expected a trailing partial segment on stop")
	}
	last := segs[len(segs)-1]
	if last.Sequence != len(segs)-1 {
		t.Fatalf("final sequence = %d with %d segments", last.Sequence, len(segs))
	}
	if !stream.stopped {
		t.Fatal("device stream was not stopped")
	}
}

func TestRecorderOpenFailureIsDeviceError(t *testing.T) {
	rec := NewRecorderForTests(func(channels, sampleRate int, buf []int16) (audioStream, func(), error) {
		return nil, nil, errors.New("no input device")
	}, zerolog.Nop())

	err := rec.Start(domain.RecordingSettings{SegmentSeconds: 60, SampleRate: 16000, Channels: 1}, func(domain.AudioSegment) {}, func(error) {})
	if provider.KindOf(err) != provider.KindDevice {
		t.Fatalf("err = %v, want device kind", err)
	}

	// Recorder must remain startable after a failed open.
	stream := &fakeStream{}
	rec.open = func(channels, sampleRate int, buf []int16) (audioStream, func(), error) {
		stream.buf = buf
		return stream, nil, nil
	}
	if err := rec.Start(domain.RecordingSettings{SegmentSeconds: 60, SampleRate: 16000, Channels: 1}, func(domain.AudioSegment) {}, func(error) {}); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	rec.Stop()
}

func TestRecorderDoubleStart(t *testing.T) {
	stream := &fakeStream{}
	rec := NewRecorderForTests(func(channels, sampleRate int, buf []int16) (audioStream, func(), error) {
		stream.buf = buf
		return stream, nil, nil
	}, zerolog.Nop())

	cfg := domain.RecordingSettings{SegmentSeconds: 60, SampleRate: 16000, Channels: 1}
	if err := rec.Start(cfg, func(domain.AudioSegment) {}, func(error) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	if err := rec.Start(cfg, func(domain.AudioSegment) {}, func(error) {}); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start = %v, want ErrAlreadyRecording", err)
	}
}

func TestRecorderPersistentReadFailureAborts(t *testing.T) {
	stream := &fakeStream{readErr: errors.New("device unplugged")}
	rec := NewRecorderForTests(func(channels, sampleRate int, buf []int16) (audioStream, func(), error) {
		stream.buf = buf
		return stream, nil, nil
	}, zerolog.Nop())

	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	cfg := domain.RecordingSettings{SegmentSeconds: 60, SampleRate: 16000, Channels: 1}
	if err := rec.Start(cfg, func(domain.AudioSegment) {}, fail); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-failed:
		if provider.KindOf(err) != provider.KindDevice {
			t.Fatalf("fail err = %v, want device kind", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("device failure was never reported")
	}
	rec.Stop()
}
