// Package config loads process configuration. Values are layered:
// built-in defaults, then an optional YAML file, then .env, then the
// environment. Command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/voice-agent-lab/internal/decoder"
	"github.com/voice-agent-lab/internal/voice"
)

// Audio sources.
const (
	SourceStdin     = "stdin"
	SourceFile      = "file"
	SourceWebSocket = "websocket"
	SourceDiscord   = "discord"
)

// Journal backends.
const (
	JournalNone   = "none"
	JournalFile   = "file"
	JournalSQLite = "sqlite"
)

type Config struct {
	LogLevel string  `yaml:"log_level"`
	Engine   Engine  `yaml:"engine"`
	Audio    Audio   `yaml:"audio"`
	Decoder  Decoder `yaml:"decoder"`
	LLM      LLM     `yaml:"llm"`
	TTS      TTS     `yaml:"tts"`
	Journal  Journal `yaml:"journal"`
	HTTP     HTTP    `yaml:"http"`
	MCP      MCP     `yaml:"mcp"`
	Sentry   Sentry  `yaml:"sentry"`
}

type Engine struct {
	TriggerPhrase  string        `yaml:"trigger_phrase"`
	PauseThreshold time.Duration `yaml:"pause_threshold"`
	MinTick        time.Duration `yaml:"min_tick"`
	SubmitWord     string        `yaml:"submit_word"`
	// NoiseTokens replaces the decoder's own noise list when set.
	NoiseTokens   []string `yaml:"noise_tokens"`
	QueueCapacity int      `yaml:"queue_capacity"`
	DegradedAfter int      `yaml:"degraded_after"`
	OutboxSize    int      `yaml:"outbox_size"`
}

type Audio struct {
	Source     string `yaml:"source"`
	Input      string `yaml:"input"`
	SampleRate int    `yaml:"sample_rate"`
	// BlockSamples of zero means half a second of audio.
	BlockSamples int     `yaml:"block_samples"`
	Realtime     bool    `yaml:"realtime"`
	Discord      Discord `yaml:"discord"`
}

type Discord struct {
	Token        string   `yaml:"token"`
	GuildID      string   `yaml:"guild_id"`
	ChannelID    string   `yaml:"channel_id"`
	AllowedUsers []string `yaml:"allowed_users"`
}

type Decoder struct {
	Name            string        `yaml:"name"`
	URL             string        `yaml:"url"`
	AuthToken       string        `yaml:"auth_token"`
	Model           string        `yaml:"model"`
	Language        string        `yaml:"language"`
	BeamSize        int           `yaml:"beam_size"`
	Translate       bool          `yaml:"translate"`
	Timeout         time.Duration `yaml:"timeout"`
	SilenceRMS      int           `yaml:"silence_rms"`
	TrailingSilence time.Duration `yaml:"trailing_silence"`
	MaxUtterance    time.Duration `yaml:"max_utterance"`
	PartialInterval time.Duration `yaml:"partial_interval"`
	Attempts        int           `yaml:"attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

type LLM struct {
	// Provider is openai, anthropic, or empty to disable the consumer.
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	FallbackModel string        `yaml:"fallback_model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	SystemPrompt  string        `yaml:"system_prompt"`
}

type TTS struct {
	URL       string        `yaml:"url"`
	AuthToken string        `yaml:"auth_token"`
	Voice     string        `yaml:"voice"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Journal struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	// Path is the database file for the sqlite backend.
	Path    string `yaml:"path"`
	Locking bool   `yaml:"locking"`

	RetentionSchedule string        `yaml:"retention_schedule"`
	MaxAge            time.Duration `yaml:"max_age"`
	MaxEntries        int           `yaml:"max_entries"`
}

type HTTP struct {
	// Addr empty disables the HTTP surface.
	Addr string `yaml:"addr"`
}

type MCP struct {
	// Manifest overrides the manifest search path.
	Manifest string `yaml:"manifest"`
	// Forward sends prompts to the servers in the manifest.
	Forward bool `yaml:"forward"`
	// Serve exposes the engine tools on /mcp/ws.
	Serve   bool          `yaml:"serve"`
	Timeout time.Duration `yaml:"timeout"`
}

type Sentry struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

func Defaults() Config {
	eng := voice.DefaultEngineConfig()
	return Config{
		LogLevel: "info",
		Engine: Engine{
			TriggerPhrase:  eng.TriggerPhrase,
			PauseThreshold: eng.PauseThreshold,
			MinTick:        eng.MinTick,
			QueueCapacity:  eng.QueueCapacity,
			DegradedAfter:  eng.DegradedAfter,
			OutboxSize:     eng.OutboxSize,
		},
		Audio: Audio{
			Source:     SourceStdin,
			Input:      "-",
			SampleRate: 16000,
		},
		Decoder: Decoder{
			Name: decoder.WhisperHTTP,
		},
		Journal: Journal{
			Backend:           JournalFile,
			Dir:               "journal",
			Path:              "journal.db",
			RetentionSchedule: "@hourly",
		},
		MCP: MCP{
			Timeout: 10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), the given .env files (default ".env", missing is fine) and the
// environment. It does not validate.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.EngineConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.BlockSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.block_samples must not be negative, got %d", c.Audio.BlockSamples))
	}
	switch c.Audio.Source {
	case SourceStdin:
	case SourceFile:
		if c.Audio.Input == "" || c.Audio.Input == "-" {
			errs = append(errs, errors.New("audio.input must name a file for the file source"))
		}
	case SourceWebSocket:
		if c.HTTP.Addr == "" {
			errs = append(errs, errors.New("the websocket audio source needs http.addr"))
		}
	case SourceDiscord:
		d := c.Audio.Discord
		if d.Token == "" || d.GuildID == "" || d.ChannelID == "" {
			errs = append(errs, errors.New("the discord source needs DISCORD_BOT_TOKEN, GUILD_ID and VOICE_CHANNEL_ID"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audio.source %q", c.Audio.Source))
	}
	if !contains(decoder.Names(), c.Decoder.Name) {
		errs = append(errs, fmt.Errorf("unknown decoder %q (known: %s)", c.Decoder.Name, strings.Join(decoder.Names(), ", ")))
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	switch c.Journal.Backend {
	case JournalNone:
	case JournalFile:
		if c.Journal.Dir == "" {
			errs = append(errs, errors.New("journal.dir is required for the file journal"))
		}
	case JournalSQLite:
		if c.Journal.Path == "" {
			errs = append(errs, errors.New("journal.path is required for the sqlite journal"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal.backend %q", c.Journal.Backend))
	}
	if c.Journal.MaxAge < 0 || c.Journal.MaxEntries < 0 {
		errs = append(errs, errors.New("journal retention limits must not be negative"))
	}
	if c.MCP.Serve && c.HTTP.Addr == "" {
		errs = append(errs, errors.New("mcp.serve needs http.addr"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", voice.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (c Config) EngineConfig() voice.EngineConfig {
	return voice.EngineConfig{
		TriggerPhrase:  c.Engine.TriggerPhrase,
		PauseThreshold: c.Engine.PauseThreshold,
		MinTick:        c.Engine.MinTick,
		QueueCapacity:  c.Engine.QueueCapacity,
		DegradedAfter:  c.Engine.DegradedAfter,
		SubmitWord:     c.Engine.SubmitWord,
		OutboxSize:     c.Engine.OutboxSize,
	}
}

func (c Config) DecoderConfig() decoder.Config {
	d := c.Decoder
	return decoder.Config{
		Name:            d.Name,
		URL:             d.URL,
		AuthToken:       d.AuthToken,
		Model:           d.Model,
		Language:        d.Language,
		BeamSize:        d.BeamSize,
		Translate:       d.Translate,
		SampleRate:      c.Audio.SampleRate,
		Timeout:         d.Timeout,
		SilenceRMS:      d.SilenceRMS,
		TrailingSilence: d.TrailingSilence,
		MaxUtterance:    d.MaxUtterance,
		PartialInterval: d.PartialInterval,
		Attempts:        d.Attempts,
		RetryBackoff:    d.RetryBackoff,
	}
}

// NoiseFilter is the configured token list, or the decoder's own.
func (c Config) NoiseFilter() voice.NoiseFilter {
	if len(c.Engine.NoiseTokens) > 0 {
		return voice.NoiseTokens(c.Engine.NoiseTokens...)
	}
	return decoder.NoiseFilter(c.Decoder.Name)
}
