package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
)

func testVolcSettings() domain.VolcengineSettings {
	return domain.VolcengineSettings{
		AppID:       "app-1",
		AccessToken: "tok-1",
		Language:    "zh-CN",
	}
}

func TestVolcengineFileTranscribe(t *testing.T) {
	var gotAuth string
	var gotReq volcFileRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(volcFileResponse{Code: 0, Result: "你好"})
	}))
	defer server.Close()

	p := NewVolcengine(testVolcSettings(), server.Client(), zerolog.Nop())
	text, err := p.transcribeAt(context.Background(), server.URL, Request{
		Audio:      []byte("RIFFfake"),
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "你好" {
		t.Fatalf("text = %q", text)
	}
	if gotAuth != "Bearer;tok-1" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotReq.App.Cluster != volcFileCluster {
		t.Fatalf("cluster = %q", gotReq.App.Cluster)
	}
	if gotReq.User.UID != volcUserID {
		t.Fatalf("uid = %q", gotReq.User.UID)
	}
	decoded, err := base64.StdEncoding.DecodeString(gotReq.Audio.Data)
	if err != nil || string(decoded) != "RIFFfake" {
		t.Fatalf("audio payload = %q (%v)", gotReq.Audio.Data, err)
	}
}

func TestVolcengineAPIErrorIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(volcFileResponse{Code: 1001, Message: "invalid token"})
	}))
	defer server.Close()

	p := NewVolcengine(testVolcSettings(), server.Client(), zerolog.Nop())
	_, err := p.transcribeAt(context.Background(), server.URL, Request{Audio: []byte("x")})
	if IsTransient(err) {
		t.Fatalf("api-level error must not be retryable, got %v", err)
	}
}

func TestVolcengineMissingCredentials(t *testing.T) {
	p := NewVolcengine(domain.VolcengineSettings{}, http.DefaultClient, zerolog.Nop())
	_, err := p.Transcribe(context.Background(), Request{Audio: []byte("x")})
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

// fakeWSConn scripts the frames the streaming endpoint would return and
// records everything the client sent.
type fakeWSConn struct {
	sent    [][]byte
	replies []volcStreamResponse
	next    int
}

func (c *fakeWSConn) WriteMessage(_ int, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)
	c.sent = append(c.sent, copied)
	return nil
}

func (c *fakeWSConn) ReadMessage() (int, []byte, error) {
	if c.next >= len(c.replies) {
		return 0, nil, context.Canceled
	}
	data, err := json.Marshal(c.replies[c.next])
	c.next++
	return websocket.TextMessage, data, err
}

func (c *fakeWSConn) Close() error { return nil }

func TestVolcengineStreamingTranscribe(t *testing.T) {
	conn := &fakeWSConn{
		replies: []volcStreamResponse{
			{Code: 0},
			{Code: 0, Result: "partial"},
			{Code: 0, Result: "full sentence", IsLast: true},
		},
	}

	settings := testVolcSettings()
	settings.UseStreaming = true
	p := NewVolcengine(settings, http.DefaultClient, zerolog.Nop())
	p.dial = func(context.Context, string) (wsConn, error) { return conn, nil }

	audio := make([]byte, streamChunkBytes+100)
	text, err := p.Transcribe(context.Background(), Request{
		Audio:      audio,
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "full sentence" {
		t.Fatalf("text = %q", text)
	}

	// Handshake plus two audio chunks, the second marked last.
	if len(conn.sent) != 3 {
		t.Fatalf("sent %d frames, want 3", len(conn.sent))
	}
	var handshake volcHandshake
	if err := json.Unmarshal(conn.sent[0], &handshake); err != nil {
		t.Fatalf("decode handshake: %v", err)
	}
	if handshake.App.Cluster != volcStreamingCluster {
		t.Fatalf("handshake cluster = %q", handshake.App.Cluster)
	}
	if handshake.Request.ReqID == "" {
		t.Fatal("handshake reqid is empty")
	}

	var last volcAudioChunk
	if err := json.Unmarshal(conn.sent[2], &last); err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if !last.Request.IsLast {
		t.Fatal("final chunk not marked is_last")
	}
	if last.Request.Sequence != 2 {
		t.Fatalf("final sequence = %d, want 2", last.Request.Sequence)
	}
}

func TestVolcengineStreamingHandshakeRejected(t *testing.T) {
	conn := &fakeWSConn{replies: []volcStreamResponse{{Code: 4001, Message: "bad cluster"}}}

	settings := testVolcSettings()
	settings.UseStreaming = true
	p := NewVolcengine(settings, http.DefaultClient, zerolog.Nop())
	p.dial = func(context.Context, string) (wsConn, error) { return conn, nil }

	_, err := p.Transcribe(context.Background(), Request{Audio: []byte("x")})
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("sent %d frames after rejected handshake, want 1", len(conn.sent))
	}
}
