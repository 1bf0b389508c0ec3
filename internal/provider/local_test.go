package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
)

func TestLocalTranscribe(t *testing.T) {
	var gotPath string
	var gotLanguage string
	var gotFile []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotLanguage = r.FormValue("language")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotFile, _ = io.ReadAll(file)
			file.Close()
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "local result"})
	}))
	defer server.Close()

	p := NewLocal(domain.LocalServiceSettings{
		ServiceURL: server.URL + "/",
		Language:   "auto",
	}, server.Client(), zerolog.Nop())

	text, err := p.Transcribe(context.Background(), Request{
		FileName: "seg-003.wav",
		Audio:    []byte("RIFFfake"),
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "local result" {
		t.Fatalf("text = %q", text)
	}
	if gotPath != "/api/v1/asr" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotLanguage != "auto" {
		t.Fatalf("language = %q", gotLanguage)
	}
	if string(gotFile) != "RIFFfake" {
		t.Fatalf("file = %q", gotFile)
	}
}

func TestLocalServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewLocal(domain.LocalServiceSettings{ServiceURL: server.URL}, server.Client(), zerolog.Nop())
	_, err := p.Transcribe(context.Background(), Request{Audio: []byte("x")})
	if !IsTransient(err) {
		t.Fatalf("5xx should be transient, got %v", err)
	}
}

func TestLocalEmptyURLFailsFast(t *testing.T) {
	p := NewLocal(domain.LocalServiceSettings{}, http.DefaultClient, zerolog.Nop())
	_, err := p.Transcribe(context.Background(), Request{Audio: []byte("x")})
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestForSettingsSelectsProvider(t *testing.T) {
	log := zerolog.Nop()
	for _, tc := range []struct {
		provider domain.Provider
		want     string
	}{
		{domain.ProviderOpenAI, "openai"},
		{domain.ProviderVolcengine, "volcengine"},
		{domain.ProviderLocal, "local"},
	} {
		p, err := ForSettings(domain.Settings{Provider: tc.provider}, nil, log)
		if err != nil {
			t.Fatalf("%s: %v", tc.provider, err)
		}
		if p.Name() != tc.want {
			t.Fatalf("Name = %q, want %q", p.Name(), tc.want)
		}
	}

	if _, err := ForSettings(domain.Settings{Provider: "bogus"}, nil, log); err == nil {
		t.Fatal("unknown provider must fail")
	}
}
