// Package journal keeps a durable record of dispatched prompts and what
// became of them: the assistant reply, the spoken audio, or the error.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/voice"
)

// ErrNotFound is returned for an unknown entry id.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one dispatched prompt.
type Entry struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Fragments    []string  `json:"fragments"`
	ActivatedAt  time.Time `json:"activated_at"`
	DispatchedAt time.Time `json:"dispatched_at"`

	Reply      string    `json:"reply,omitempty"`
	RepliedAt  time.Time `json:"replied_at,omitempty"`
	SpeechPath string    `json:"speech_path,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Outcome is what a downstream consumer reports back for an entry. Empty
// fields leave the stored value unchanged.
type Outcome struct {
	Reply      string
	SpeechPath string
	Error      string
}

// Store persists entries. Implementations are safe for concurrent use.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Annotate(ctx context.Context, id string, o Outcome) error
	// SaveSpeech stores synthesized audio for an entry and returns where
	// it went.
	SaveSpeech(ctx context.Context, id string, wav []byte) (string, error)
	Get(ctx context.Context, id string) (Entry, error)
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Prune deletes entries dispatched before cutoff and then the oldest
	// beyond keep (when keep > 0). It returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time, keep int) (int, error)
	Close() error
}

func FromPrompt(p voice.Prompt) Entry {
	return Entry{
		ID:           p.ID,
		Text:         p.Text,
		Fragments:    append([]string(nil), p.Fragments...),
		ActivatedAt:  p.ActivatedAt,
		DispatchedAt: p.DispatchedAt,
	}
}

func (o Outcome) apply(e *Entry, now time.Time) {
	if o.Reply != "" {
		e.Reply = o.Reply
		e.RepliedAt = now
	}
	if o.SpeechPath != "" {
		e.SpeechPath = o.SpeechPath
	}
	if o.Error != "" {
		e.Error = o.Error
	}
}

// Recorder is a prompt consumer that journals every prompt. Failing to
// record is logged and reported but never blocks later prompts.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder { return &Recorder{store: store} }

func (r *Recorder) OnPrompt(ctx context.Context, p voice.Prompt) error {
	if err := r.store.Record(ctx, FromPrompt(p)); err != nil {
		logging.Warnw("journal: record failed", append(logging.PromptFields(p.ID, len(p.Fragments)), "err", err)...)
		return err
	}
	logging.Debugw("journal: recorded prompt", logging.PromptFields(p.ID, len(p.Fragments))...)
	return nil
}

var _ voice.PromptConsumer = (*Recorder)(nil)
