// Package tts speaks text through an external synthesis service. The
// service takes {"text": ..., "voice": ...} as JSON and answers with audio
// bytes, normally a WAV file.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voice-agent-lab/internal/logging"
)

// ErrNotConfigured is returned when no service URL was given.
var ErrNotConfigured = errors.New("tts client not configured")

type Config struct {
	URL       string
	AuthToken string
	Voice     string
	Timeout   time.Duration
	Attempts  int
	Backoff   time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type request struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize returns the audio for text.
func (c *Client) Synthesize(ctx context.Context, text, correlationID string) ([]byte, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(request{Text: text, Voice: c.cfg.Voice})
	if err != nil {
		return nil, err
	}
	resp, err := postWithRetries(ctx, c.client, c.cfg.URL, body, c.cfg.AuthToken, c.cfg.Attempts, c.cfg.Backoff, correlationID)
	if err != nil {
		logging.Debugw("tts: POST failed", "err", err, "correlation_id", correlationID)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logging.Warnw("tts: returned non-2xx", "status", resp.StatusCode, "correlation_id", correlationID)
		return nil, fmt.Errorf("tts returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned no audio")
	}
	logging.Infow("tts: synthesized reply", "bytes", len(audio), "correlation_id", correlationID)
	return audio, nil
}

// postWithRetries POSTs a JSON body, retrying transport errors and 5xx
// responses with exponential backoff. The caller closes the body of the
// returned response.
func postWithRetries(ctx context.Context, client *http.Client, url string, body []byte, authToken string, attempts int, backoff time.Duration, correlationID string) (*http.Response, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(1<<(i-1))):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			logging.Debugw("tts: POST attempt failed", "attempt", i+1, "err", err, "correlation_id", correlationID)
			continue
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("tts server error status=%d", resp.StatusCode)
			logging.Debugw("tts: server error, retrying", "attempt", i+1, "status", resp.StatusCode, "correlation_id", correlationID)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}
