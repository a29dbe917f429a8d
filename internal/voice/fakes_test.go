package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var errBackendDown = errors.New("backend unreachable")

// scriptDecoder interprets each frame as a command:
//
//	"P:text"  partial transcript
//	"F:text"  final transcript
//	"B:text"  final transcript, but only after gate is closed
//	"E:"      service failure
//	"U:"      unintelligible
//	anything else produces no transcript
type scriptDecoder struct {
	gate   chan struct{}
	mu     sync.Mutex
	frames []string
	closed bool
}

func newScriptDecoder() *scriptDecoder {
	return &scriptDecoder{gate: make(chan struct{})}
}

func (d *scriptDecoder) Accept(ctx context.Context, frame []byte) (Transcript, error) {
	s := string(frame)
	d.mu.Lock()
	d.frames = append(d.frames, s)
	d.mu.Unlock()
	kind, text, _ := strings.Cut(s, ":")
	switch kind {
	case "P":
		return Transcript{Text: text, Finality: Partial}, nil
	case "F":
		return Transcript{Text: text, Finality: Final}, nil
	case "B":
		select {
		case <-d.gate:
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		}
		return Transcript{Text: text, Finality: Final}, nil
	case "E":
		return Transcript{}, errBackendDown
	case "U":
		return Transcript{}, ErrUnintelligible
	}
	return Transcript{}, nil
}

func (d *scriptDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// promptRecorder is a PromptConsumer collecting prompts.
type promptRecorder struct {
	mu      sync.Mutex
	prompts []Prompt
}

func (r *promptRecorder) OnPrompt(_ context.Context, p Prompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, p)
	return nil
}

func (r *promptRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p.Text)
	}
	return out
}

// hookRecorder captures hook invocations.
type hookRecorder struct {
	mu         sync.Mutex
	outcomes   []DispatchOutcome
	modes      []ListeningMode
	degraded   int
	recovered  int
	transcript []Transcript
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnTranscript: func(t Transcript) {
			h.mu.Lock()
			h.transcript = append(h.transcript, t)
			h.mu.Unlock()
		},
		OnModeChange: func(_, to ListeningMode) {
			h.mu.Lock()
			h.modes = append(h.modes, to)
			h.mu.Unlock()
		},
		OnDispatch: func(r DispatchResult) {
			h.mu.Lock()
			h.outcomes = append(h.outcomes, r.Outcome)
			h.mu.Unlock()
		},
		OnDegraded: func(error, int) {
			h.mu.Lock()
			h.degraded++
			h.mu.Unlock()
		},
		OnRecovered: func() {
			h.mu.Lock()
			h.recovered++
			h.mu.Unlock()
		},
	}
}

func (h *hookRecorder) count(o DispatchOutcome) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, got := range h.outcomes {
		if got == o {
			n++
		}
	}
	return n
}

func (h *hookRecorder) counts() (degraded, recovered int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded, h.recovered
}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.PauseThreshold = 150 * time.Millisecond
	cfg.MinTick = 10 * time.Millisecond
	return cfg
}

func startEngine(t *testing.T, cfg EngineConfig, dec Decoder, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, dec, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Start()
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func pushAll(e *Engine, frames ...string) {
	for _, f := range frames {
		e.Push([]byte(f))
	}
}
