// Package provider implements the interchangeable speech-to-text
// backends: OpenAI-compatible HTTP, Volcengine HTTP/WebSocket, and the
// container-hosted local service.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
)

// defaultRequestTimeout bounds one transcription attempt.
const defaultRequestTimeout = 60 * time.Second

// Request carries one finalized audio segment encoded as a WAV file.
type Request struct {
	FileName   string
	Audio      []byte
	SampleRate int
	Channels   int
}

// Provider is one interchangeable transcription backend.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// ForSettings builds the provider selected by the settings snapshot.
// The snapshot is copied at dispatch time; later settings edits never
// mutate an in-flight request's parameters.
func ForSettings(settings domain.Settings, client *http.Client, log zerolog.Logger) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	switch settings.Provider {
	case domain.ProviderOpenAI:
		return NewOpenAI(settings.OpenAI, client, log), nil
	case domain.ProviderVolcengine:
		return NewVolcengine(settings.Volcengine, client, log), nil
	case domain.ProviderLocal:
		return NewLocal(settings.Local, client, log), nil
	default:
		return nil, Validation(fmt.Sprintf("unknown provider: %s", settings.Provider), nil)
	}
}
