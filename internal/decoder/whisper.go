package decoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/voice"
)

const WhisperHTTP = "whisper-http"

// WhisperModels are the model identities the whisper service accepts.
var WhisperModels = []string{"tiny", "tiny.en", "base", "base.en", "small", "small.en", "medium", "medium.en", "large-v3", "turbo"}

func init() {
	Register(WhisperHTTP,
		"batch transcription per utterance against a whisper HTTP service",
		[]string{"the", "you", "thanks for watching!", "."},
		func(cfg Config) (voice.Decoder, error) { return NewWhisper(cfg) })
}

// Whisper segments the PCM stream into utterances with an RMS gate and
// posts each one to a whisper HTTP service as a WAV file. With a partial
// interval set it also transcribes the utterance so far while it grows.
type Whisper struct {
	cfg      Config
	endpoint string
	client   *http.Client

	buf          []byte
	voiced       bool
	silence      time.Duration
	sincePartial time.Duration
	cid          string
}

func NewWhisper(cfg Config) (*Whisper, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: whisper url is required", voice.ErrInvalidConfig)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: whisper url: %v", voice.ErrInvalidConfig, err)
	}
	if cfg.Model != "" && !knownWhisperModel(cfg.Model) {
		return nil, fmt.Errorf("%w: unknown whisper model %q", voice.ErrInvalidConfig, cfg.Model)
	}
	q := u.Query()
	if cfg.Translate {
		q.Set("task", "translate")
	}
	if cfg.BeamSize > 0 {
		q.Set("beam_size", strconv.Itoa(cfg.BeamSize))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	u.RawQuery = q.Encode()

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SilenceRMS <= 0 {
		cfg.SilenceRMS = 500
	}
	if cfg.TrailingSilence <= 0 {
		cfg.TrailingSilence = 700 * time.Millisecond
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = 15 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Whisper{
		cfg:      cfg,
		endpoint: u.String(),
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func knownWhisperModel(m string) bool {
	for _, k := range WhisperModels {
		if k == m {
			return true
		}
	}
	return false
}

// Accept buffers the frame and returns a Final transcript once the
// utterance is closed by trailing silence or reaches MaxUtterance.
func (w *Whisper) Accept(ctx context.Context, frame []byte) (voice.Transcript, error) {
	dur := pcmDuration(len(frame), w.cfg.SampleRate)
	loud := rms(frame) >= w.cfg.SilenceRMS

	if !w.voiced && !loud {
		// leading silence: keep only the latest frame as pre-roll
		w.buf = append(w.buf[:0], frame...)
		return voice.Transcript{}, nil
	}
	if !w.voiced {
		w.voiced = true
		w.cid = uuid.NewString()
	}
	w.buf = append(w.buf, frame...)
	if loud {
		w.silence = 0
	} else {
		w.silence += dur
	}
	w.sincePartial += dur

	total := pcmDuration(len(w.buf), w.cfg.SampleRate)
	if w.silence >= w.cfg.TrailingSilence || total >= w.cfg.MaxUtterance {
		pcm, cid := w.buf, w.cid
		w.reset()
		text, err := w.transcribe(ctx, pcm, cid)
		if err != nil {
			return voice.Transcript{}, err
		}
		return voice.Transcript{Text: text, Finality: voice.Final, At: time.Now()}, nil
	}

	if w.cfg.PartialInterval > 0 && w.sincePartial >= w.cfg.PartialInterval {
		w.sincePartial = 0
		text, err := w.transcribe(ctx, w.buf, w.cid)
		if err != nil {
			// a failed partial is not worth surfacing; the final will retry
			logging.Debugw("whisper: partial transcription failed", "err", err, "correlation_id", w.cid)
			return voice.Transcript{}, nil
		}
		return voice.Transcript{Text: text, Finality: voice.Partial, At: time.Now()}, nil
	}
	return voice.Transcript{}, nil
}

func (w *Whisper) reset() {
	w.buf = nil
	w.voiced = false
	w.silence = 0
	w.sincePartial = 0
	w.cid = ""
}

// transcribe posts pcm as a WAV, retrying network errors and 5xx
// responses with exponential backoff.
func (w *Whisper) transcribe(ctx context.Context, pcm []byte, cid string) (string, error) {
	wav := buildWAV(pcm, w.cfg.SampleRate, 1, 16)
	logging.Debugw("whisper: sending audio", "url", w.endpoint, "correlation_id", cid, "bytes", len(pcm), "duration_ms", pcmDuration(len(pcm), w.cfg.SampleRate).Milliseconds())

	var lastErr error
	for attempt := 0; attempt < w.cfg.Attempts; attempt++ {
		if attempt > 0 {
			backoff := w.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		text, retry, err := w.post(ctx, wav, cid)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry {
			break
		}
		logging.Warnw("whisper: request failed", "err", err, "attempt", attempt, "correlation_id", cid)
	}
	return "", lastErr
}

func (w *Whisper) post(ctx context.Context, wav []byte, cid string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(wav))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("X-Correlation-ID", cid)
	if w.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.AuthToken)
	}
	sent := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", true, fmt.Errorf("whisper server error status=%d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("whisper returned status=%d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode whisper response: %w", err)
	}
	logging.Debugw("whisper: response received", "correlation_id", cid, "status", resp.StatusCode, "stt_latency_ms", time.Since(sent).Milliseconds())
	if strings.TrimSpace(out.Text) == "" {
		return "", false, nil
	}
	return out.Text, false, nil
}

func (w *Whisper) Close() error {
	w.reset()
	w.client.CloseIdleConnections()
	return nil
}

var _ voice.Decoder = (*Whisper)(nil)
