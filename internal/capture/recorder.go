// Package capture records microphone audio and cuts it into
// fixed-duration segments for transcription.
package capture

import (
	"errors"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
	"vtt-keyboard/internal/provider"
)

const (
	// frameSamples is the per-read buffer size handed to PortAudio.
	frameSamples = 1024

	// frameQueueDepth bounds buffered frames between the device reader
	// and the segmenter. At 16kHz mono this is several seconds of slack.
	frameQueueDepth = 256

	// maxReadErrors is how many consecutive device read failures are
	// tolerated before the session is aborted.
	maxReadErrors = 10
)

// ErrAlreadyRecording is returned when Start is called mid-capture.
var ErrAlreadyRecording = errors.New("capture already in progress")

// audioStream is the device stream surface, abstracted for tests.
type audioStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// streamOpener opens an input stream filling buf on each Read. The
// returned func releases the audio host when the stream is done.
type streamOpener func(channels, sampleRate int, buf []int16) (audioStream, func(), error)

func defaultOpenStream(channels, sampleRate int, buf []int16) (audioStream, func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, nil, err
	}
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, nil, err
	}
	return stream, func() { _ = portaudio.Terminate() }, nil
}

// CountInputDevices reports how many capture-capable devices the audio
// host exposes. Used by startup diagnostics.
func CountInputDevices() (int, error) {
	if err := portaudio.Initialize(); err != nil {
		return 0, err
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			count++
		}
	}
	return count, nil
}

// Recorder owns the microphone. Capture runs on a dedicated goroutine
// that never blocks on downstream consumers.
type Recorder struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	open streamOpener
	log  zerolog.Logger
}

// NewRecorder creates a recorder bound to the default input device.
func NewRecorder(log zerolog.Logger) *Recorder {
	return &Recorder{
		open: defaultOpenStream,
		log:  log.With().Str("component", "capture").Logger(),
	}
}

// NewRecorderForTests creates a recorder with an injected stream opener.
func NewRecorderForTests(open streamOpener, log zerolog.Logger) *Recorder {
	return &Recorder{open: open, log: log}
}

// Start opens the input device and begins capturing. Segments are
// delivered to emit in capture order; an unrecoverable device failure
// is reported once through fail and ends the capture. A device that
// cannot be opened fails Start immediately.
func (r *Recorder) Start(cfg domain.RecordingSettings, emit func(domain.AudioSegment), fail func(error)) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}

	in := make([]int16, frameSamples)
	stream, release, err := r.open(cfg.Channels, cfg.SampleRate, in)
	if err != nil {
		r.mu.Unlock()
		return provider.Device("open audio input device", err)
	}

	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stopCh, doneCh := r.stop, r.done
	r.mu.Unlock()

	frames := make(chan []int16, frameQueueDepth)
	go r.readLoop(stream, release, in, frames, stopCh, fail)
	go r.segmentLoop(cfg, frames, emit, doneCh)
	return nil
}

// Stop ends capture and waits until the trailing partial segment has
// been emitted. Safe to call when not recording.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh, doneCh := r.stop, r.done
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// readLoop pulls frames from the device until stopped. Frames are
// copied before queueing; a full queue drops the frame rather than
// stalling the device.
func (r *Recorder) readLoop(stream audioStream, release func(), in []int16, frames chan<- []int16, stopCh <-chan struct{}, fail func(error)) {
	defer close(frames)
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
		if release != nil {
			release()
		}
	}()

	if err := stream.Start(); err != nil {
		fail(provider.Device("start audio input stream", err))
		return
	}

	readErrors := 0
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			readErrors++
			if readErrors >= maxReadErrors {
				fail(provider.Device("audio input stream lost", err))
				return
			}
			r.log.Warn().Err(err).Int("consecutive", readErrors).Msg("device read failed")
			continue
		}
		readErrors = 0

		frame := make([]int16, len(in))
		copy(frame, in)
		select {
		case frames <- frame:
		default:
			r.log.Warn().Msg("frame queue full, dropping frame")
		}
	}
}

// segmentLoop drains captured frames into the segmenter and emits
// completed segments, then the final partial one.
func (r *Recorder) segmentLoop(cfg domain.RecordingSettings, frames <-chan []int16, emit func(domain.AudioSegment), doneCh chan<- struct{}) {
	defer close(doneCh)

	seg := NewSegmenter(cfg)
	for frame := range frames {
		for _, full := range seg.Push(frame) {
			emit(full)
		}
	}
	if final, ok := seg.Flush(); ok {
		emit(final)
	}
}
