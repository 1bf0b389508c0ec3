package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
)

func testOpenAISettings(base string) domain.OpenAISettings {
	return domain.OpenAISettings{
		APIBase:        base,
		APIKey:         "sk-test",
		Model:          "gpt-4o-transcribe",
		Language:       "en",
		ResponseFormat: "json",
	}
}

func TestOpenAITranscribe(t *testing.T) {
	var gotAuth string
	var gotFields map[string]string
	var gotFile []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotFields = map[string]string{}
		for name, values := range r.MultipartForm.Value {
			gotFields[name] = values[0]
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotFile, _ = io.ReadAll(file)
			file.Close()
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer server.Close()

	p := NewOpenAI(testOpenAISettings(server.URL), server.Client(), zerolog.Nop())
	text, err := p.Transcribe(context.Background(), Request{
		FileName: "seg-001.wav",
		Audio:    []byte("RIFFfake"),
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotFields["model"] != "gpt-4o-transcribe" || gotFields["language"] != "en" {
		t.Fatalf("fields = %v", gotFields)
	}
	if _, ok := gotFields["prompt"]; ok {
		t.Fatal("empty prompt must not be sent")
	}
	if string(gotFile) != "RIFFfake" {
		t.Fatalf("file = %q", gotFile)
	}
}

func TestOpenAIEmptyKeyFailsFast(t *testing.T) {
	settings := testOpenAISettings("https://api.openai.com/v1")
	settings.APIKey = "  "
	p := NewOpenAI(settings, http.DefaultClient, zerolog.Nop())

	_, err := p.Transcribe(context.Background(), Request{Audio: []byte("x")})
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestOpenAIErrorKinds(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", status)
	}))
	defer server.Close()

	p := NewOpenAI(testOpenAISettings(server.URL), server.Client(), zerolog.Nop())
	_, err := p.Transcribe(context.Background(), Request{Audio: []byte("x")})
	if !IsTransient(err) {
		t.Fatalf("5xx should be transient, got %v", err)
	}

	status = http.StatusUnauthorized
	_, err = p.Transcribe(context.Background(), Request{Audio: []byte("x")})
	if IsTransient(err) {
		t.Fatalf("4xx should not be transient, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || !strings.Contains(perr.Message, "401") {
		t.Fatalf("expected status in message, got %v", err)
	}
}

func TestDecodeTranscriptionPlainText(t *testing.T) {
	settings := domain.OpenAISettings{ResponseFormat: "text"}
	text, err := decodeTranscription(settings, []byte("  plain result \n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "plain result" {
		t.Fatalf("text = %q", text)
	}
}

func TestParseStreamedText(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"delta":{"text":"hel"}}`,
		``,
		`data: {"delta":{"text":"lo"}}`,
		`data: {"type":"transcript.text.done","text":"hello"}`,
		`data: [DONE]`,
	}, "\n")
	if got := parseStreamedText([]byte(payload)); got != "hello" {
		t.Fatalf("streamed text = %q", got)
	}
}
