package voice

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidConfig wraps every construction-time configuration error.
	ErrInvalidConfig = errors.New("invalid engine configuration")
	// ErrUnintelligible is returned by a Decoder when a frame could not be
	// turned into text. It is not counted towards degraded mode.
	ErrUnintelligible = errors.New("unintelligible audio")
	// ErrQueueClosed is returned by Pop once the queue is closed.
	ErrQueueClosed = errors.New("frame queue closed")
	// ErrEngineClosed is returned by requests made after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// Finality distinguishes revisable hypotheses from confirmed results.
type Finality int

const (
	Partial Finality = iota
	Final
)

func (f Finality) String() string {
	if f == Final {
		return "final"
	}
	return "partial"
}

// Transcript is one decoder result. Text is normalized by the classifier
// before it reaches the dialogue state.
type Transcript struct {
	Text     string    `json:"text"`
	Finality Finality  `json:"-"`
	At       time.Time `json:"at"`
}

// ListeningMode is the dialogue state.
type ListeningMode int

const (
	Passive ListeningMode = iota
	Active
)

func (m ListeningMode) String() string {
	if m == Active {
		return "active"
	}
	return "passive"
}

// Frame is an immutable block of PCM16LE mono audio.
type Frame struct {
	Data []byte
	Seq  uint64
	At   time.Time
}

// Prompt is a completed utterance handed to the consumer.
type Prompt struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Fragments    []string  `json:"fragments"`
	ActivatedAt  time.Time `json:"activated_at"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// DispatchOutcome reports what happened to a dispatch attempt.
type DispatchOutcome int

const (
	// DispatchSent means the prompt was handed to the delivery loop.
	DispatchSent DispatchOutcome = iota
	// DispatchDropped means state was reset but no consumer was attached.
	DispatchDropped
	// DispatchDeferred means frames were still awaiting classification.
	DispatchDeferred
)

func (o DispatchOutcome) String() string {
	switch o {
	case DispatchSent:
		return "sent"
	case DispatchDropped:
		return "dropped"
	case DispatchDeferred:
		return "deferred"
	}
	return "unknown"
}

// DispatchResult is passed to Hooks.OnDispatch. Prompt is zero for
// deferred attempts.
type DispatchResult struct {
	Outcome DispatchOutcome
	Prompt  Prompt
	Reason  string
}

// Decoder turns audio frames into transcripts. Implementations are used
// from a single goroutine and may keep per-utterance state; returning a
// Final transcript resets that state. Empty Text means nothing to report.
type Decoder interface {
	Accept(ctx context.Context, frame []byte) (Transcript, error)
	Close() error
}

// PromptConsumer receives completed prompts in order, one at a time.
type PromptConsumer interface {
	OnPrompt(ctx context.Context, p Prompt) error
}

// ConsumerFunc adapts a function to PromptConsumer.
type ConsumerFunc func(ctx context.Context, p Prompt) error

func (f ConsumerFunc) OnPrompt(ctx context.Context, p Prompt) error { return f(ctx, p) }

// Hooks are optional observers invoked from engine goroutines. They must
// return quickly.
type Hooks struct {
	OnTranscript func(t Transcript)
	OnModeChange func(from, to ListeningMode)
	OnDispatch   func(r DispatchResult)
	OnDegraded   func(err error, consecutive int)
	OnRecovered  func()
}

// Status is a point-in-time view of the engine.
type Status struct {
	Mode            ListeningMode `json:"-"`
	ModeName        string        `json:"mode"`
	PendingPrompt   []string      `json:"pending_fragments"`
	LastSpeech      time.Time     `json:"last_speech,omitzero"`
	WatchdogArmed   bool          `json:"watchdog_armed"`
	QueuedFrames    int           `json:"queued_frames"`
	PendingFrames   int64         `json:"pending_frames"`
	DroppedFrames   int64         `json:"dropped_frames"`
	Dispatched      int64         `json:"dispatched"`
	DroppedPrompts  int64         `json:"dropped_prompts"`
	DecodeFailures  int64         `json:"decode_failures"`
	Degraded        bool          `json:"degraded"`
	ConsumerPresent bool          `json:"consumer_attached"`
}
