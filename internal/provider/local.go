package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
)

// Local transcribes via the container-hosted service's
// POST {base}/api/v1/asr multipart contract.
type Local struct {
	settings domain.LocalServiceSettings
	client   *http.Client
	log      zerolog.Logger
}

// NewLocal creates the local-service provider from a settings snapshot.
func NewLocal(settings domain.LocalServiceSettings, client *http.Client, log zerolog.Logger) *Local {
	return &Local{
		settings: settings,
		client:   client,
		log:      log.With().Str("provider", "local").Logger(),
	}
}

// Name identifies the provider in logs and history records.
func (p *Local) Name() string { return "local" }

// Transcribe uploads one segment to the local service.
func (p *Local) Transcribe(ctx context.Context, req Request) (string, error) {
	base := strings.TrimSpace(p.settings.ServiceURL)
	if base == "" {
		return "", Validation("local service url is empty", nil)
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = "recording.wav"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", Validation("build multipart form", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return "", Validation("build multipart form", err)
	}
	if lang := strings.TrimSpace(p.settings.Language); lang != "" {
		if err := writer.WriteField("language", lang); err != nil {
			return "", Validation("build multipart form", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", Validation("build multipart form", err)
	}

	url := strings.TrimRight(base, "/") + "/api/v1/asr"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", Validation("build request", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", wrapHTTPFailure("local service", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transient("read local service response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("local service", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", Validation("parse local service response: "+truncate(string(payload), 200), err)
	}

	p.log.Debug().Int("bytes", len(req.Audio)).Msg("segment transcribed")
	return decoded.Text, nil
}
