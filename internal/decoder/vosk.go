package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/voice"
)

const VoskWS = "vosk-ws"

func init() {
	Register(VoskWS,
		"streaming kaldi recognizer behind a vosk-server websocket",
		[]string{"the"},
		func(cfg Config) (voice.Decoder, error) { return NewVosk(cfg) })
}

// Vosk streams frames to a vosk-server over websocket. The server answers
// every audio message with either {"partial": ...} or, when it closes an
// utterance, {"text": ...}.
type Vosk struct {
	cfg    Config
	url    string
	dialer *websocket.Dialer
	conn   *websocket.Conn
}

type voskConfigMessage struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

type voskResult struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
}

func NewVosk(cfg Config) (*Vosk, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: vosk url %q is not a valid websocket url", voice.ErrInvalidConfig, cfg.URL)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: vosk url scheme %q not supported", voice.ErrInvalidConfig, u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Vosk{
		cfg:    cfg,
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
	}, nil
}

// connect dials lazily so an unreachable server surfaces as per-frame
// failures rather than a startup error.
func (v *Vosk) connect(ctx context.Context) error {
	if v.conn != nil {
		return nil
	}
	conn, _, err := v.dialer.DialContext(ctx, v.url, nil)
	if err != nil {
		return fmt.Errorf("dial vosk: %w", err)
	}
	var msg voskConfigMessage
	msg.Config.SampleRate = v.cfg.SampleRate
	if err := conn.WriteJSON(msg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send vosk config: %w", err)
	}
	v.conn = conn
	logging.Infow("vosk: connected", "url", v.url, "sample_rate", v.cfg.SampleRate)
	return nil
}

func (v *Vosk) Accept(ctx context.Context, frame []byte) (voice.Transcript, error) {
	if err := v.connect(ctx); err != nil {
		return voice.Transcript{}, err
	}
	deadline := time.Now().Add(v.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = v.conn.SetWriteDeadline(deadline)
	if err := v.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		v.drop()
		return voice.Transcript{}, fmt.Errorf("send audio to vosk: %w", err)
	}
	_ = v.conn.SetReadDeadline(deadline)
	_, data, err := v.conn.ReadMessage()
	if err != nil {
		v.drop()
		return voice.Transcript{}, fmt.Errorf("read vosk result: %w", err)
	}

	var res voskResult
	if err := json.Unmarshal(data, &res); err != nil {
		return voice.Transcript{}, fmt.Errorf("%w: bad vosk result: %v", voice.ErrUnintelligible, err)
	}
	switch {
	case res.Text != nil:
		return voice.Transcript{Text: *res.Text, Finality: voice.Final, At: time.Now()}, nil
	case res.Partial != nil:
		return voice.Transcript{Text: *res.Partial, Finality: voice.Partial, At: time.Now()}, nil
	}
	return voice.Transcript{}, nil
}

func (v *Vosk) drop() {
	if v.conn != nil {
		_ = v.conn.Close()
		v.conn = nil
	}
}

// Close tells the server the stream ended and closes the socket.
func (v *Vosk) Close() error {
	if v.conn == nil {
		return nil
	}
	_ = v.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = v.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`))
	err := v.conn.Close()
	v.conn = nil
	return err
}

var _ voice.Decoder = (*Vosk)(nil)
