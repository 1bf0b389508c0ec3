package capture

import (
	"time"

	"vtt-keyboard/internal/domain"
)

// Segmenter cuts the incoming sample stream into fixed-duration
// segments. Sequence numbers start at zero and follow capture order.
type Segmenter struct {
	samplesPerSegment int
	sampleRate        int
	channels          int

	seq int
	buf []int16
	now func() time.Time
}

// NewSegmenter builds a segmenter for the given recording settings.
func NewSegmenter(cfg domain.RecordingSettings) *Segmenter {
	return &Segmenter{
		samplesPerSegment: cfg.SegmentSeconds * cfg.SampleRate * cfg.Channels,
		sampleRate:        cfg.SampleRate,
		channels:          cfg.Channels,
		now:               time.Now,
	}
}

// Push appends one captured frame and returns any segments that
// reached the configured duration.
func (s *Segmenter) Push(frame []int16) []domain.AudioSegment {
	s.buf = append(s.buf, frame...)

	var out []domain.AudioSegment
	for len(s.buf) >= s.samplesPerSegment {
		out = append(out, s.cut(s.buf[:s.samplesPerSegment]))
		s.buf = s.buf[s.samplesPerSegment:]
	}
	return out
}

// Flush returns the trailing partial segment, if any samples remain.
// A session that captured nothing produces no final segment.
func (s *Segmenter) Flush() (domain.AudioSegment, bool) {
	if len(s.buf) == 0 {
		return domain.AudioSegment{}, false
	}
	seg := s.cut(s.buf)
	s.buf = nil
	return seg, true
}

func (s *Segmenter) cut(samples []int16) domain.AudioSegment {
	copied := make([]int16, len(samples))
	copy(copied, samples)

	seg := domain.AudioSegment{
		Sequence:   s.seq,
		Samples:    copied,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Duration:   time.Duration(len(copied)/s.channels) * time.Second / time.Duration(s.sampleRate),
		CapturedAt: s.now(),
	}
	s.seq++
	return seg
}
