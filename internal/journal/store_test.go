package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voice-agent-lab/internal/voice"
)

func entryAt(at time.Time, text string) Entry {
	return Entry{
		ID:           uuid.NewString(),
		Text:         text,
		Fragments:    strings.Fields(text),
		ActivatedAt:  at.Add(-time.Second),
		DispatchedAt: at,
	}
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	t.Run("record and get", func(t *testing.T) {
		s := open(t)
		e := entryAt(base, "turn on the lights")
		require.NoError(t, s.Record(ctx, e))

		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Text, got.Text)
		assert.Equal(t, e.Fragments, got.Fragments)
		assert.True(t, e.DispatchedAt.Equal(got.DispatchedAt))
		assert.True(t, e.ActivatedAt.Equal(got.ActivatedAt))

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("annotate merges", func(t *testing.T) {
		s := open(t)
		e := entryAt(base, "what time is it")
		require.NoError(t, s.Record(ctx, e))

		require.NoError(t, s.Annotate(ctx, e.ID, Outcome{Reply: "noon"}))
		require.NoError(t, s.Annotate(ctx, e.ID, Outcome{Error: "tts failed"}))
		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "noon", got.Reply)
		assert.False(t, got.RepliedAt.IsZero())
		assert.Equal(t, "tts failed", got.Error)

		assert.ErrorIs(t, s.Annotate(ctx, "missing", Outcome{Reply: "x"}), ErrNotFound)
	})

	t.Run("speech", func(t *testing.T) {
		s := open(t)
		e := entryAt(base, "say hi")
		require.NoError(t, s.Record(ctx, e))
		ref, err := s.SaveSpeech(ctx, e.ID, []byte("RIFF...."))
		require.NoError(t, err)
		assert.NotEmpty(t, ref)

		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, ref, got.SpeechPath)
	})

	t.Run("recent newest first", func(t *testing.T) {
		s := open(t)
		for i, text := range []string{"one", "two", "three"} {
			require.NoError(t, s.Record(ctx, entryAt(base.Add(time.Duration(i)*time.Minute), text)))
		}
		got, err := s.Recent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "three", got[0].Text)
		assert.Equal(t, "two", got[1].Text)
	})

	t.Run("prune by age and count", func(t *testing.T) {
		s := open(t)
		now := time.Now()
		old := entryAt(now.Add(-48*time.Hour), "ancient")
		require.NoError(t, s.Record(ctx, old))
		for i := 0; i < 4; i++ {
			require.NoError(t, s.Record(ctx, entryAt(now.Add(time.Duration(i-10)*time.Minute), "fresh")))
		}

		n, err := s.Prune(ctx, now.Add(-24*time.Hour), 3)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.Get(ctx, old.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		left, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, left, 3)
	})
}

func TestFileStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenFileStore(t.TempDir(), true)
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFileStoreReindexesOnOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir, false)
	require.NoError(t, err)
	e := entryAt(time.Now(), "persist me")
	require.NoError(t, s.Record(context.Background(), e))
	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes_x.json"), []byte("{}"), 0o644))

	reopened, err := OpenFileStore(dir, false)
	require.NoError(t, err)
	got, err := reopened.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", got.Text)
}

func TestFileStorePruneRemovesSpeech(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFileStore(t.TempDir(), false)
	require.NoError(t, err)
	e := entryAt(time.Now().Add(-72*time.Hour), "old reply")
	require.NoError(t, s.Record(ctx, e))
	path, err := s.SaveSpeech(ctx, e.ID, []byte("wav"))
	require.NoError(t, err)
	require.FileExists(t, path)

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, path)
}

func TestSQLiteSpeechBlob(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer s.Close()

	e := entryAt(time.Now(), "speak")
	require.NoError(t, s.Record(ctx, e))
	_, err = s.SaveSpeech(ctx, e.ID, []byte("first"))
	require.NoError(t, err)
	_, err = s.SaveSpeech(ctx, e.ID, []byte("second"))
	require.NoError(t, err)

	wav, err := s.Speech(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), wav)

	_, err = s.Speech(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecorderJournalsPrompts(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFileStore(t.TempDir(), false)
	require.NoError(t, err)

	p := voice.Prompt{ID: uuid.NewString(), Text: "lights on", Fragments: []string{"lights on"}, DispatchedAt: time.Now()}
	require.NoError(t, NewRecorder(s).OnPrompt(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "lights on", got.Text)
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFileStore(t.TempDir(), false)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, entryAt(time.Now().Add(time.Duration(i)*time.Second), "x")))
	}

	none, err := StartRetention(s, RetentionPolicy{})
	require.NoError(t, err)
	assert.Nil(t, none)
	none.Stop()

	_, err = StartRetention(s, RetentionPolicy{Schedule: "not a schedule", MaxEntries: 1})
	require.Error(t, err)

	r, err := StartRetention(s, RetentionPolicy{Schedule: "@every 1h", MaxEntries: 2})
	require.NoError(t, err)
	defer r.Stop()
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
