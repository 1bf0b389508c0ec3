package capture

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"vtt-keyboard/internal/domain"
)

// EncodeWAV renders one captured segment as a 16-bit PCM WAV file in
// memory.
func EncodeWAV(seg domain.AudioSegment) ([]byte, error) {
	out := &seekBuffer{}
	enc := wav.NewEncoder(out, seg.SampleRate, 16, seg.Channels, 1)

	data := make([]int, len(seg.Samples))
	for i, v := range seg.Samples {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: seg.Channels, SampleRate: seg.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.Bytes(), nil
}

// SegmentFileName names one segment upload for provider requests.
func SegmentFileName(sessionID string, sequence int) string {
	return fmt.Sprintf("%s-seg-%03d.wav", sessionID, sequence)
}

// seekBuffer adapts a byte buffer to the io.WriteSeeker the WAV encoder
// needs for patching chunk sizes after the data is written.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekBuffer) Bytes() []byte {
	return bytes.Clone(b.data)
}
