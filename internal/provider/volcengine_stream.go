package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// streamChunkBytes is the audio payload size per streaming message.
const streamChunkBytes = 32 * 1024

// wsConn is the subset of *websocket.Conn the streaming path needs,
// abstracted for tests.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type wsDialFunc func(ctx context.Context, url string) (wsConn, error)

func defaultWSDial(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type volcHandshake struct {
	App     volcAppInfo   `json:"app"`
	User    volcUserInfo  `json:"user"`
	Request volcStreamReq `json:"request"`
	Audio   volcAudioInfo `json:"audio"`
}

type volcStreamReq struct {
	ReqID          string `json:"reqid"`
	Workflow       string `json:"workflow"`
	Sequence       int    `json:"sequence"`
	NBest          int    `json:"nbest"`
	ShowUtterances bool   `json:"show_utterances"`
}

type volcAudioChunk struct {
	Audio struct {
		Data string `json:"data"`
	} `json:"audio"`
	Request struct {
		Sequence int  `json:"sequence"`
		IsLast   bool `json:"is_last"`
	} `json:"request"`
}

type volcStreamResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  string `json:"result"`
	IsLast  bool   `json:"is_last"`
}

// transcribeStreaming sends the segment over the streaming WebSocket
// endpoint: JSON handshake, base64 audio chunks, then result frames
// until the service marks the last one.
func (p *Volcengine) transcribeStreaming(ctx context.Context, req Request) (string, error) {
	conn, err := p.dial(ctx, volcStreamingASRURL)
	if err != nil {
		return "", Transient("volcengine websocket dial", err)
	}
	defer conn.Close()

	handshake := volcHandshake{
		App: volcAppInfo{
			AppID:   p.settings.AppID,
			Cluster: volcStreamingCluster,
			Token:   p.settings.AccessToken,
		},
		User: volcUserInfo{UID: volcUserID},
		Request: volcStreamReq{
			ReqID:          uuid.NewString(),
			Workflow:       "audio_in,resample,partition,vad,fe,decode,itn,nlu_punctuate",
			Sequence:       1,
			NBest:          1,
			ShowUtterances: true,
		},
		Audio: volcAudioInfo{
			Format:   "wav",
			Rate:     req.SampleRate,
			Language: p.settings.Language,
			Bits:     16,
			Channel:  req.Channels,
			Codec:    "raw",
		},
	}
	if err := writeJSON(conn, handshake); err != nil {
		return "", Transient("volcengine handshake send", err)
	}

	var ack volcStreamResponse
	if err := readJSON(conn, &ack); err != nil {
		return "", Transient("volcengine handshake read", err)
	}
	if ack.Code != 0 {
		return "", Validation("volcengine handshake rejected: "+ack.Message, nil)
	}

	sequence := 1
	for offset := 0; offset < len(req.Audio); {
		end := offset + streamChunkBytes
		if end > len(req.Audio) {
			end = len(req.Audio)
		}

		var chunk volcAudioChunk
		chunk.Audio.Data = base64.StdEncoding.EncodeToString(req.Audio[offset:end])
		chunk.Request.Sequence = sequence
		chunk.Request.IsLast = end >= len(req.Audio)
		if err := writeJSON(conn, chunk); err != nil {
			return "", Transient("volcengine audio send", err)
		}

		offset = end
		sequence++
	}

	finalText := ""
	for {
		var resp volcStreamResponse
		if err := readJSON(conn, &resp); err != nil {
			return "", Transient("volcengine result read", err)
		}
		if resp.Code != 0 {
			return "", Validation("volcengine recognition failed: "+resp.Message, nil)
		}
		if resp.Result != "" {
			finalText = resp.Result
		}
		if resp.IsLast {
			break
		}
	}
	return finalText, nil
}

func writeJSON(conn wsConn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readJSON(conn wsConn, out any) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return json.Unmarshal(data, out)
	}
}
