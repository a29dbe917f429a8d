package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/voice-agent-lab/internal/journal"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/voice"
)

// Speaker synthesizes a reply to audio.
type Speaker interface {
	Synthesize(ctx context.Context, text, correlationID string) ([]byte, error)
}

// Consumer answers each prompt with the model. The reply is written to
// the journal and, when a speaker is set, spoken and saved alongside.
type Consumer struct {
	client  *Client
	system  string
	speaker Speaker
	store   journal.Store
}

type ConsumerOption func(*Consumer)

func WithSystemPrompt(s string) ConsumerOption { return func(c *Consumer) { c.system = s } }
func WithSpeaker(s Speaker) ConsumerOption     { return func(c *Consumer) { c.speaker = s } }

// WithJournal records replies against entries the journal already holds;
// put a journal.Recorder ahead of this consumer.
func WithJournal(s journal.Store) ConsumerOption { return func(c *Consumer) { c.store = s } }

func NewConsumer(client *Client, opts ...ConsumerOption) *Consumer {
	c := &Consumer{client: client}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Consumer) systemPrompt(p voice.Prompt) string {
	meta := fmt.Sprintf("source: voice-agent-lab; prompt_id: %s; fragments: %d", p.ID, len(p.Fragments))
	if c.system == "" {
		return meta
	}
	return c.system + "\n\n" + meta
}

func (c *Consumer) OnPrompt(ctx context.Context, p voice.Prompt) error {
	fields := logging.PromptFields(p.ID, len(p.Fragments))
	resp, err := c.client.CreateChatCompletion(ctx, ChatRequest{System: c.systemPrompt(p), Prompt: p.Text})
	if err != nil {
		logging.Warnw("llm: completion failed", append(fields, "err", err)...)
		c.annotate(ctx, p.ID, journal.Outcome{Error: err.Error()})
		return err
	}
	reply := strings.TrimSpace(resp.Content)
	logging.Infow("llm: reply received", append(fields, "model", resp.Model, "reply_len", len(reply))...)
	logging.Debugw("llm: reply text", append(fields, "reply", reply)...)
	if reply == "" {
		return nil
	}
	c.annotate(ctx, p.ID, journal.Outcome{Reply: reply})

	if c.speaker == nil {
		return nil
	}
	audio, err := c.speaker.Synthesize(ctx, reply, p.ID)
	if err != nil {
		c.annotate(ctx, p.ID, journal.Outcome{Error: "tts: " + err.Error()})
		return fmt.Errorf("speak reply: %w", err)
	}
	if c.store != nil {
		path, err := c.store.SaveSpeech(ctx, p.ID, audio)
		if err != nil {
			logging.Warnw("llm: failed to save speech", append(fields, "err", err)...)
			return nil
		}
		logging.Infow("llm: saved speech", append(fields, "path", path)...)
	}
	return nil
}

func (c *Consumer) annotate(ctx context.Context, id string, o journal.Outcome) {
	if c.store == nil {
		return
	}
	if err := c.store.Annotate(ctx, id, o); err != nil {
		logging.Debugw("llm: journal annotate failed", "prompt.id", id, "err", err)
	}
}

var _ voice.PromptConsumer = (*Consumer)(nil)
