package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voice-agent-lab/internal/decoder"
	"github.com/voice-agent-lab/internal/voice"
)

func mapLookup(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, voice.DefaultEngineConfig(), cfg.EngineConfig())
	assert.Equal(t, decoder.WhisperHTTP, cfg.Decoder.Name)
	assert.Equal(t, 16000, cfg.DecoderConfig().SampleRate)
}

func TestApplyEnvCompatibilityNames(t *testing.T) {
	cfg := Defaults()
	err := cfg.applyEnv(mapLookup(map[string]string{
		"WAKE_PHRASES":      "hey computer, ok computer",
		"PAUSE_THRESHOLD":   "1.5",
		"MIN_TICK":          "250ms",
		"WHISPER_URL":       "http://whisper:9000/asr",
		"STT_BEAM_SIZE":     "5",
		"STT_LANGUAGE":      "en",
		"WHISPER_TRANSLATE": "true",
		"DISCORD_BOT_TOKEN": "tok",
		"GUILD_ID":          "g",
		"VOICE_CHANNEL_ID":  "c",
		"ALLOWED_USER_IDS":  "1, 2,,3",
		"TTS_URL":           "http://tts",
		"SAVE_AUDIO_DIR":    "/var/lib/ears",
		"SIDECAR_LOCKING":   "1",
		"OPENAI_API_KEY":    "sk-test",
		"LLM_MAX_TOKENS":    "256",
		"HTTP_ADDR":         ":8080",
		"NOISE_TOKENS":      "um,uh",
		"SENTRY_DSN":        "https://k@sentry.example.com/1",
	}))
	require.NoError(t, err)

	assert.Equal(t, "hey computer", cfg.Engine.TriggerPhrase)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.PauseThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.MinTick)
	assert.Equal(t, "http://whisper:9000/asr", cfg.Decoder.URL)
	assert.Equal(t, 5, cfg.Decoder.BeamSize)
	assert.Equal(t, "en", cfg.Decoder.Language)
	assert.True(t, cfg.Decoder.Translate)
	assert.Equal(t, Discord{Token: "tok", GuildID: "g", ChannelID: "c", AllowedUsers: []string{"1", "2", "3"}}, cfg.Audio.Discord)
	assert.Equal(t, "http://tts", cfg.TTS.URL)
	assert.Equal(t, "/var/lib/ears", cfg.Journal.Dir)
	assert.True(t, cfg.Journal.Locking)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 256, cfg.LLM.MaxTokens)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "https://k@sentry.example.com/1", cfg.Sentry.DSN)

	f := cfg.NoiseFilter()
	assert.True(t, f("um"))
	assert.False(t, f("the"), "configured tokens replace the decoder's list")
}

func TestApplyEnvPrefersTriggerPhrase(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.applyEnv(mapLookup(map[string]string{
		"TRIGGER_PHRASE": "jarvis",
		"WAKE_PHRASES":   "hey computer",
	})))
	assert.Equal(t, "jarvis", cfg.Engine.TriggerPhrase)
}

func TestApplyEnvCollectsParseErrors(t *testing.T) {
	cfg := Defaults()
	err := cfg.applyEnv(mapLookup(map[string]string{
		"PAUSE_THRESHOLD": "soon",
		"QUEUE_CAPACITY":  "many",
		"MCP_SERVE":       "perhaps",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAUSE_THRESHOLD")
	assert.Contains(t, err.Error(), "QUEUE_CAPACITY")
	assert.Contains(t, err.Error(), "MCP_SERVE")
	assert.Equal(t, Defaults().Engine.QueueCapacity, cfg.Engine.QueueCapacity, "bad values leave the previous layer")
}

func TestLoadLayersFileThenDotEnv(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "ears.yaml")
	require.NoError(t, os.WriteFile(yml, []byte(`
engine:
  trigger_phrase: hey lab
  pause_threshold: 3s
  submit_word: over
decoder:
  name: vosk-ws
  url: ws://vosk:2700
journal:
  backend: sqlite
  path: /tmp/ears.db
  max_entries: 500
`), 0o644))
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("EARS_TEST_UNUSED=1\nDEGRADED_AFTER=9\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("EARS_TEST_UNUSED")
		os.Unsetenv("DEGRADED_AFTER")
	})

	cfg, err := Load(yml, envFile)
	require.NoError(t, err)
	assert.Equal(t, "hey lab", cfg.Engine.TriggerPhrase)
	assert.Equal(t, 3*time.Second, cfg.Engine.PauseThreshold)
	assert.Equal(t, "over", cfg.Engine.SubmitWord)
	assert.Equal(t, Defaults().Engine.MinTick, cfg.Engine.MinTick, "unset keys keep defaults")
	assert.Equal(t, decoder.VoskWS, cfg.Decoder.Name)
	assert.Equal(t, JournalSQLite, cfg.Journal.Backend)
	assert.Equal(t, 500, cfg.Journal.MaxEntries)
	assert.Equal(t, 9, cfg.Engine.DegradedAfter, ".env applies over the file")
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	yml := filepath.Join(t.TempDir(), "ears.yaml")
	require.NoError(t, os.WriteFile(yml, []byte("engine:\n  trigger: nope\n"), 0o644))
	_, err := Load(yml, filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse "+yml)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"engine":          func(c *Config) { c.Engine.PauseThreshold = 0 },
		"sample rate":     func(c *Config) { c.Audio.SampleRate = 0 },
		"source":          func(c *Config) { c.Audio.Source = "microphone" },
		"file input":      func(c *Config) { c.Audio.Source = SourceFile },
		"websocket addr":  func(c *Config) { c.Audio.Source = SourceWebSocket },
		"discord creds":   func(c *Config) { c.Audio.Source = SourceDiscord },
		"decoder":         func(c *Config) { c.Decoder.Name = "sphinx" },
		"llm provider":    func(c *Config) { c.LLM.Provider = "cohere" },
		"journal backend": func(c *Config) { c.Journal.Backend = "s3" },
		"journal dir":     func(c *Config) { c.Journal.Dir = "" },
		"retention":       func(c *Config) { c.Journal.MaxEntries = -1 },
		"mcp serve":       func(c *Config) { c.MCP.Serve = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), voice.ErrInvalidConfig)
		})
	}

	cfg := Defaults()
	cfg.Audio.Source = SourceWebSocket
	cfg.HTTP.Addr = ":0"
	cfg.MCP.Serve = true
	cfg.Journal.Backend = JournalNone
	cfg.Journal.Dir = ""
	assert.NoError(t, cfg.Validate())
}
