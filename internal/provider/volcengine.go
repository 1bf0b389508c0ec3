package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
)

const (
	volcFileASRURL      = "https://openspeech.bytedance.com/api/v1/auc"
	volcStreamingASRURL = "wss://openspeech.bytedance.com/api/v1/asr"

	volcFileCluster      = "volcengine_input_common"
	volcStreamingCluster = "volcengine_streaming_common"

	volcUserID = "vtt-keyboard"
)

// Volcengine transcribes via the Volcengine speech API, either the
// file-recognition HTTP endpoint or the streaming WebSocket endpoint.
type Volcengine struct {
	settings domain.VolcengineSettings
	client   *http.Client
	dial     wsDialFunc
	log      zerolog.Logger
}

// NewVolcengine creates the Volcengine provider from a settings
// snapshot.
func NewVolcengine(settings domain.VolcengineSettings, client *http.Client, log zerolog.Logger) *Volcengine {
	return &Volcengine{
		settings: settings,
		client:   client,
		dial:     defaultWSDial,
		log:      log.With().Str("provider", "volcengine").Logger(),
	}
}

// Name identifies the provider in logs and history records.
func (p *Volcengine) Name() string { return "volcengine" }

// Transcribe uploads one segment, selecting file or streaming mode.
func (p *Volcengine) Transcribe(ctx context.Context, req Request) (string, error) {
	if err := p.ensureConfig(); err != nil {
		return "", err
	}
	if p.settings.UseStreaming {
		return p.transcribeStreaming(ctx, req)
	}
	return p.transcribeFile(ctx, req)
}

// ensureConfig fails fast on missing credentials before any network
// call is attempted.
func (p *Volcengine) ensureConfig() error {
	if strings.TrimSpace(p.settings.AppID) == "" {
		return Validation("volcengine app id is empty", nil)
	}
	if strings.TrimSpace(p.settings.AccessToken) == "" {
		return Validation("volcengine access token is empty", nil)
	}
	return nil
}

type volcAppInfo struct {
	AppID   string `json:"appid"`
	Cluster string `json:"cluster"`
	Token   string `json:"token,omitempty"`
}

type volcUserInfo struct {
	UID string `json:"uid"`
}

type volcAudioInfo struct {
	Data     string `json:"data,omitempty"`
	Format   string `json:"format"`
	Rate     int    `json:"rate,omitempty"`
	Language string `json:"language,omitempty"`
	Bits     int    `json:"bits,omitempty"`
	Channel  int    `json:"channel,omitempty"`
	Codec    string `json:"codec,omitempty"`
}

type volcRequestInfo struct {
	Sequence int `json:"sequence"`
}

type volcFileRequest struct {
	App     volcAppInfo     `json:"app"`
	User    volcUserInfo    `json:"user"`
	Audio   volcAudioInfo   `json:"audio"`
	Request volcRequestInfo `json:"request"`
}

type volcFileResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// transcribeFile posts the whole WAV as base64 to the file ASR API.
func (p *Volcengine) transcribeFile(ctx context.Context, req Request) (string, error) {
	return p.transcribeAt(ctx, volcFileASRURL, req)
}

func (p *Volcengine) transcribeAt(ctx context.Context, url string, req Request) (string, error) {
	payload := volcFileRequest{
		App: volcAppInfo{
			AppID:   p.settings.AppID,
			Cluster: volcFileCluster,
			Token:   p.settings.AccessToken,
		},
		User: volcUserInfo{UID: volcUserID},
		Audio: volcAudioInfo{
			Data:     base64.StdEncoding.EncodeToString(req.Audio),
			Format:   "wav",
			Rate:     req.SampleRate,
			Language: p.settings.Language,
		},
		Request: volcRequestInfo{Sequence: 1},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Validation("encode volcengine request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Validation("build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer;"+p.settings.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", wrapHTTPFailure("volcengine", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transient("read volcengine response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("volcengine", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded volcFileResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", Validation("parse volcengine response", err)
	}
	if decoded.Code != 0 {
		return "", Validation(fmt.Sprintf("volcengine code %d: %s", decoded.Code, decoded.Message), nil)
	}

	p.log.Debug().Int("bytes", len(req.Audio)).Msg("segment transcribed")
	return decoded.Result, nil
}
