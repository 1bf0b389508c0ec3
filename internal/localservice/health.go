package localservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vtt-keyboard/internal/domain"
)

// healthProbeTimeout is deliberately shorter than transcription
// request timeouts; a slow probe counts as a failure.
const healthProbeTimeout = 2 * time.Second

// probeFunc checks service health once, returning nil when ready.
type probeFunc func(ctx context.Context, serviceURL string) error

// newHTTPProbe builds the health probe for a model variant. The
// SenseVoice server reports readiness on /health; vLLM-hosted models
// expose /v1/models once the model is loaded.
func newHTTPProbe(client *http.Client, model domain.LocalModel) probeFunc {
	if model == domain.LocalModelQwen3ASR {
		return func(ctx context.Context, serviceURL string) error {
			return probeStatusOK(ctx, client, strings.TrimRight(serviceURL, "/")+"/v1/models")
		}
	}
	return func(ctx context.Context, serviceURL string) error {
		return probeReady(ctx, client, strings.TrimRight(serviceURL, "/")+"/health")
	}
}

func probeReady(ctx context.Context, client *http.Client, url string) error {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	var decoded struct {
		Ready bool `json:"ready"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("parse health response: %w", err)
	}
	if !decoded.Ready {
		return fmt.Errorf("service is up but the model is not loaded yet")
	}
	return nil
}

func probeStatusOK(ctx context.Context, client *http.Client, url string) error {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// waitHealthy polls the probe until it succeeds or the deadline passes.
func waitHealthy(ctx context.Context, probe probeFunc, serviceURL string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if err := probe(ctx, serviceURL); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("service did not become healthy within %s: %w", timeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
