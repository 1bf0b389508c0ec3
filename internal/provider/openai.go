package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
)

// OpenAI transcribes via the OpenAI-compatible
// POST {base}/audio/transcriptions multipart contract.
type OpenAI struct {
	settings domain.OpenAISettings
	client   *http.Client
	log      zerolog.Logger
}

// NewOpenAI creates the OpenAI-compatible provider from a settings
// snapshot.
func NewOpenAI(settings domain.OpenAISettings, client *http.Client, log zerolog.Logger) *OpenAI {
	return &OpenAI{
		settings: settings,
		client:   client,
		log:      log.With().Str("provider", "openai").Logger(),
	}
}

// Name identifies the provider in logs and history records.
func (p *OpenAI) Name() string { return "openai" }

// Transcribe uploads one segment and returns its transcript text.
func (p *OpenAI) Transcribe(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(p.settings.APIKey) == "" {
		return "", Validation("openai api key is empty", nil)
	}

	body, contentType, err := buildTranscriptionForm(p.settings, req.FileName, req.Audio)
	if err != nil {
		return "", Validation("build multipart form", err)
	}

	url := strings.TrimRight(p.settings.APIBase, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", Validation("build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(p.settings.APIKey))
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", wrapHTTPFailure("openai", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transient("read openai response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("openai", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	text, err := decodeTranscription(p.settings, payload)
	if err != nil {
		return "", err
	}
	p.log.Debug().Int("bytes", len(req.Audio)).Int("chars", len(text)).Msg("segment transcribed")
	return text, nil
}

// buildTranscriptionForm assembles the multipart request body with the
// model/language/prompt/response_format/temperature fields.
func buildTranscriptionForm(settings domain.OpenAISettings, fileName string, audio []byte) (*bytes.Buffer, string, error) {
	if fileName == "" {
		fileName = "recording.wav"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":       settings.Model,
		"temperature": strconv.FormatFloat(settings.Temperature, 'f', -1, 64),
	}
	if strings.TrimSpace(settings.Language) != "" {
		fields["language"] = settings.Language
	}
	if strings.TrimSpace(settings.Prompt) != "" {
		fields["prompt"] = settings.Prompt
	}
	if strings.TrimSpace(settings.ResponseFormat) != "" {
		fields["response_format"] = settings.ResponseFormat
	}
	if settings.Stream {
		fields["stream"] = "true"
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

// decodeTranscription extracts transcript text from a JSON, plain-text,
// or SSE-streamed response body.
func decodeTranscription(settings domain.OpenAISettings, payload []byte) (string, error) {
	if settings.Stream {
		if text := parseStreamedText(payload); text != "" {
			return text, nil
		}
	}
	if settings.ResponseFormat == "text" {
		return strings.TrimSpace(string(payload)), nil
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", Validation(fmt.Sprintf("parse openai response: %s", truncate(string(payload), 200)), err)
	}
	return decoded.Text, nil
}

// parseStreamedText joins text deltas from SSE "data:" lines. A done
// event carrying the complete text supersedes the accumulated deltas.
func parseStreamedText(payload []byte) string {
	var deltas strings.Builder
	full := ""
	for _, line := range strings.Split(string(payload), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Text  string `json:"text"`
			Delta struct {
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Text != "" {
			full = chunk.Text
		} else if chunk.Delta.Text != "" {
			deltas.WriteString(chunk.Delta.Text)
		}
	}
	if full != "" {
		return strings.TrimSpace(full)
	}
	return strings.TrimSpace(deltas.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
