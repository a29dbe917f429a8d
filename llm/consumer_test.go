package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voice-agent-lab/internal/journal"
	"github.com/voice-agent-lab/internal/voice"
)

type fakeSpeaker struct {
	err  error
	said []string
}

func (f *fakeSpeaker) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.said = append(f.said, text)
	return []byte("RIFF" + text), nil
}

func recordedPrompt(t *testing.T, store journal.Store, text string) voice.Prompt {
	t.Helper()
	p := voice.Prompt{ID: uuid.NewString(), Text: text, Fragments: []string{text}, DispatchedAt: time.Now()}
	require.NoError(t, journal.NewRecorder(store).OnPrompt(context.Background(), p))
	return p
}

func TestConsumerRepliesSpeaksAndJournals(t *testing.T) {
	ctx := context.Background()
	store, err := journal.OpenFileStore(t.TempDir(), false)
	require.NoError(t, err)
	fake := &fakeOpenAI{}
	speaker := &fakeSpeaker{}
	c := NewConsumer(newOpenAIClient(t, fake, Config{Model: "local"}),
		WithSystemPrompt("You are terse."), WithSpeaker(speaker), WithJournal(store))

	p := recordedPrompt(t, store, "turn on the lights")
	require.NoError(t, c.OnPrompt(ctx, p))

	assert.Equal(t, []string{"ok from local"}, speaker.said)
	e, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok from local", e.Reply)
	assert.FileExists(t, e.SpeechPath)

	fake.mu.Lock()
	msgs := fake.bodies[0]["messages"].([]any)
	fake.mu.Unlock()
	sys := msgs[0].(map[string]any)["content"].(string)
	assert.Contains(t, sys, "You are terse.")
	assert.Contains(t, sys, p.ID)
}

func TestConsumerRecordsFailures(t *testing.T) {
	ctx := context.Background()
	store, err := journal.OpenFileStore(t.TempDir(), false)
	require.NoError(t, err)
	fake := &fakeOpenAI{fail: map[string]int{"local": http.StatusBadRequest}}
	c := NewConsumer(newOpenAIClient(t, fake, Config{Model: "local"}), WithJournal(store))

	p := recordedPrompt(t, store, "hello")
	err = c.OnPrompt(ctx, p)
	assert.ErrorIs(t, err, ErrPermanent)

	e, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, e.Error)
	assert.Empty(t, e.Reply)
}

func TestConsumerSpeechFailure(t *testing.T) {
	ctx := context.Background()
	store, err := journal.OpenFileStore(t.TempDir(), false)
	require.NoError(t, err)
	boom := errors.New("speaker offline")
	c := NewConsumer(newOpenAIClient(t, &fakeOpenAI{}, Config{Model: "local"}),
		WithSpeaker(&fakeSpeaker{err: boom}), WithJournal(store))

	p := recordedPrompt(t, store, "hello")
	assert.ErrorIs(t, c.OnPrompt(ctx, p), boom)

	e, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok from local", e.Reply, "the reply is kept even when speech fails")
	assert.Contains(t, e.Error, "speaker offline")
}

func TestConsumerWithoutJournal(t *testing.T) {
	c := NewConsumer(newOpenAIClient(t, &fakeOpenAI{}, Config{Model: "local"}))
	require.NoError(t, c.OnPrompt(context.Background(), voice.Prompt{ID: "p1", Text: "hi"}))
}
