package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(string) (string, bool)

// envReader applies environment overrides, collecting parse errors.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

// first returns the first non-empty value among names.
func (r *envReader) first(names ...string) (string, string, bool) {
	for _, n := range names {
		if v, ok := r.lookup(n); ok && strings.TrimSpace(v) != "" {
			return n, strings.TrimSpace(v), true
		}
	}
	return "", "", false
}

func (r *envReader) str(dst *string, names ...string) {
	if _, v, ok := r.first(names...); ok {
		*dst = v
	}
}

func (r *envReader) list(dst *[]string, names ...string) {
	if _, v, ok := r.first(names...); ok {
		*dst = splitList(v)
	}
}

func (r *envReader) integer(dst *int, names ...string) {
	name, v, ok := r.first(names...)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", name, v))
		return
	}
	*dst = n
}

func (r *envReader) boolean(dst *bool, names ...string) {
	name, v, ok := r.first(names...)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", name, v))
		return
	}
	*dst = b
}

// duration accepts Go durations ("1500ms") and bare numbers of seconds.
func (r *envReader) duration(dst *time.Duration, names ...string) {
	name, v, ok := r.first(names...)
	if !ok {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) applyEnv(lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	r.str(&c.LogLevel, "LOG_LEVEL")

	// WAKE_PHRASES may list several; the engine listens for the first.
	if _, v, ok := r.first("TRIGGER_PHRASE", "WAKE_PHRASE", "WAKE_PHRASES"); ok {
		if phrases := splitList(v); len(phrases) > 0 {
			c.Engine.TriggerPhrase = phrases[0]
		}
	}
	r.duration(&c.Engine.PauseThreshold, "PAUSE_THRESHOLD")
	r.duration(&c.Engine.MinTick, "MIN_TICK")
	r.str(&c.Engine.SubmitWord, "SUBMIT_WORD")
	r.list(&c.Engine.NoiseTokens, "NOISE_TOKENS")
	r.integer(&c.Engine.QueueCapacity, "QUEUE_CAPACITY")
	r.integer(&c.Engine.DegradedAfter, "DEGRADED_AFTER")

	r.str(&c.Audio.Source, "AUDIO_SOURCE")
	r.str(&c.Audio.Input, "AUDIO_INPUT")
	r.integer(&c.Audio.SampleRate, "SAMPLE_RATE")
	r.integer(&c.Audio.BlockSamples, "BLOCK_SAMPLES")
	r.boolean(&c.Audio.Realtime, "AUDIO_REALTIME")
	r.str(&c.Audio.Discord.Token, "DISCORD_BOT_TOKEN")
	r.str(&c.Audio.Discord.GuildID, "GUILD_ID")
	r.str(&c.Audio.Discord.ChannelID, "VOICE_CHANNEL_ID")
	r.list(&c.Audio.Discord.AllowedUsers, "ALLOWED_USER_IDS")

	r.str(&c.Decoder.Name, "STT_DECODER")
	r.str(&c.Decoder.URL, "STT_URL", "WHISPER_URL", "VOSK_URL")
	r.str(&c.Decoder.AuthToken, "STT_AUTH_TOKEN")
	r.str(&c.Decoder.Model, "STT_MODEL", "WHISPER_MODEL")
	r.str(&c.Decoder.Language, "STT_LANGUAGE")
	r.integer(&c.Decoder.BeamSize, "STT_BEAM_SIZE")
	r.boolean(&c.Decoder.Translate, "WHISPER_TRANSLATE")
	r.duration(&c.Decoder.Timeout, "STT_TIMEOUT")
	r.integer(&c.Decoder.SilenceRMS, "STT_SILENCE_RMS")
	r.duration(&c.Decoder.TrailingSilence, "STT_TRAILING_SILENCE")
	r.duration(&c.Decoder.PartialInterval, "STT_PARTIAL_INTERVAL")

	r.str(&c.LLM.Provider, "LLM_PROVIDER")
	r.str(&c.LLM.BaseURL, "OPENAI_BASE_URL", "ANTHROPIC_BASE_URL")
	r.str(&c.LLM.APIKey, "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	r.str(&c.LLM.Model, "OPENAI_MODEL", "ANTHROPIC_MODEL", "ORCHESTRATOR_MODEL")
	r.str(&c.LLM.FallbackModel, "OPENAI_FALLBACK_MODEL", "LLM_FALLBACK_MODEL")
	r.integer(&c.LLM.MaxTokens, "LLM_MAX_TOKENS")
	r.duration(&c.LLM.Timeout, "LLM_TIMEOUT")
	r.str(&c.LLM.SystemPrompt, "LLM_SYSTEM_PROMPT")

	r.str(&c.TTS.URL, "TTS_URL")
	r.str(&c.TTS.AuthToken, "TTS_AUTH_TOKEN")
	r.str(&c.TTS.Voice, "TTS_VOICE")
	r.duration(&c.TTS.Timeout, "TTS_TIMEOUT")

	r.str(&c.Journal.Backend, "JOURNAL_BACKEND")
	r.str(&c.Journal.Dir, "JOURNAL_DIR", "SAVE_AUDIO_DIR")
	r.str(&c.Journal.Path, "JOURNAL_DB")
	r.boolean(&c.Journal.Locking, "SIDECAR_LOCKING")
	r.str(&c.Journal.RetentionSchedule, "JOURNAL_RETENTION_SCHEDULE")
	r.duration(&c.Journal.MaxAge, "JOURNAL_MAX_AGE")
	r.integer(&c.Journal.MaxEntries, "JOURNAL_MAX_ENTRIES")

	r.str(&c.HTTP.Addr, "HTTP_ADDR")

	r.str(&c.MCP.Manifest, "MCP_CONFIG_PATH")
	r.boolean(&c.MCP.Forward, "MCP_FORWARD")
	r.boolean(&c.MCP.Serve, "MCP_SERVE")

	r.str(&c.Sentry.DSN, "SENTRY_DSN")
	r.str(&c.Sentry.Environment, "SENTRY_ENVIRONMENT")

	return errors.Join(r.errs...)
}
