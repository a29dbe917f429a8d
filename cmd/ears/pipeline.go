package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voice-agent-lab/internal/alerting"
	"github.com/voice-agent-lab/internal/audio"
	"github.com/voice-agent-lab/internal/config"
	"github.com/voice-agent-lab/internal/decoder"
	"github.com/voice-agent-lab/internal/journal"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/mcp"
	mcpconfig "github.com/voice-agent-lab/internal/mcp/config"
	"github.com/voice-agent-lab/internal/server"
	"github.com/voice-agent-lab/internal/tts"
	"github.com/voice-agent-lab/internal/voice"
	"github.com/voice-agent-lab/llm"
)

// pipeline is everything one `ears run` owns.
type pipeline struct {
	cfg       config.Config
	reporter  *alerting.Reporter
	store     journal.Store
	retention *journal.Retention
	forwarder *mcp.Forwarder
	hub       *server.Hub
	engine    *voice.Engine
	source    audio.Source
	http      *server.Server

	// delivered counts prompts that reached the consumer chain.
	delivered atomic.Int64
	closers   []func() error
	closeOnce sync.Once
}

type pipelineOptions struct {
	// out receives one JSON line per prompt; nil disables printing.
	out io.Writer
	// input overrides the configured audio input (tests).
	input io.Reader
}

// promptLine is what the printer writes for each prompt.
type promptLine struct {
	ID           string    `json:"prompt_id"`
	Text         string    `json:"text"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

func printConsumer(w io.Writer) voice.PromptConsumer {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return voice.ConsumerFunc(func(_ context.Context, p voice.Prompt) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(promptLine{ID: p.ID, Text: p.Text, DispatchedAt: p.DispatchedAt})
	})
}

func openJournal(ctx context.Context, j config.Journal) (journal.Store, error) {
	switch j.Backend {
	case config.JournalFile:
		s, err := journal.OpenFileStore(j.Dir, j.Locking)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.JournalSQLite:
		s, err := journal.OpenSQLite(ctx, j.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

// buildPipeline opens every configured component. On error whatever was
// already opened is closed again.
func buildPipeline(ctx context.Context, cfg config.Config, opts pipelineOptions) (_ *pipeline, err error) {
	p := &pipeline{cfg: cfg}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	p.reporter, err = alerting.New(alerting.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     "ears@" + version,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}

	p.store, err = openJournal(ctx, cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if p.store != nil {
		p.closers = append(p.closers, p.store.Close)
		p.retention, err = journal.StartRetention(p.store, journal.RetentionPolicy{
			Schedule:   cfg.Journal.RetentionSchedule,
			MaxAge:     cfg.Journal.MaxAge,
			MaxEntries: cfg.Journal.MaxEntries,
		})
		if err != nil {
			return nil, err
		}
	}

	consumers, err := p.buildConsumers(ctx, opts.out)
	if err != nil {
		return nil, err
	}

	dec, err := decoder.New(cfg.DecoderConfig())
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	logging.Infow("decoder ready", logging.DecoderFields(cfg.Decoder.Name)...)

	p.hub = server.NewHub()
	engineOpts := []voice.Option{
		voice.WithHooks(voice.JoinHooks(logHooks(), p.hub.Hooks(), p.reporter.Hooks())),
		voice.WithNoiseFilter(cfg.NoiseFilter()),
	}
	if len(consumers) > 0 {
		fan := voice.Fanout(consumers...)
		engineOpts = append(engineOpts, voice.WithConsumer(voice.ConsumerFunc(func(ctx context.Context, pr voice.Prompt) error {
			defer p.delivered.Add(1)
			return fan.OnPrompt(ctx, pr)
		})))
	}
	p.engine, err = voice.NewEngine(cfg.EngineConfig(), dec, engineOpts...)
	if err != nil {
		_ = dec.Close()
		return nil, err
	}

	var ingest http.Handler
	p.source, ingest, err = p.buildSource(opts.input)
	if err != nil {
		return nil, err
	}

	if cfg.HTTP.Addr != "" {
		scfg := server.Config{Addr: cfg.HTTP.Addr, Version: version, Audio: ingest}
		if cfg.MCP.Serve {
			scfg.MCP = mcp.NewServer(version, p.engine, p.store)
		}
		p.http = server.New(scfg, p.engine, p.hub)
	}
	return p, nil
}

// buildConsumers returns the prompt consumers in delivery order. The
// journal comes first so later consumers can annotate the entry.
func (p *pipeline) buildConsumers(ctx context.Context, out io.Writer) ([]voice.PromptConsumer, error) {
	cfg := p.cfg
	var consumers []voice.PromptConsumer
	if p.store != nil {
		consumers = append(consumers, p.reporter.Guard("journal", journal.NewRecorder(p.store)))
	}
	if out != nil {
		consumers = append(consumers, printConsumer(out))
	}
	if cfg.LLM.Provider != "" {
		client, err := llm.NewClient(llm.Config{
			Provider:      cfg.LLM.Provider,
			BaseURL:       cfg.LLM.BaseURL,
			APIKey:        cfg.LLM.APIKey,
			Model:         cfg.LLM.Model,
			FallbackModel: cfg.LLM.FallbackModel,
			MaxTokens:     cfg.LLM.MaxTokens,
			Timeout:       cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		var copts []llm.ConsumerOption
		if cfg.LLM.SystemPrompt != "" {
			copts = append(copts, llm.WithSystemPrompt(cfg.LLM.SystemPrompt))
		}
		if p.store != nil {
			copts = append(copts, llm.WithJournal(p.store))
		}
		speaker, err := tts.New(tts.Config{
			URL:       cfg.TTS.URL,
			AuthToken: cfg.TTS.AuthToken,
			Voice:     cfg.TTS.Voice,
			Timeout:   cfg.TTS.Timeout,
		})
		switch {
		case err == nil:
			copts = append(copts, llm.WithSpeaker(speaker))
		case errors.Is(err, tts.ErrNotConfigured):
			logging.Infow("tts not configured; replies will not be spoken")
		default:
			return nil, fmt.Errorf("tts: %w", err)
		}
		consumers = append(consumers, p.reporter.Guard("llm", llm.NewConsumer(client, copts...)))
	}
	if cfg.MCP.Forward {
		manifest, err := mcpconfig.Load(cfg.MCP.Manifest)
		if err != nil {
			return nil, fmt.Errorf("mcp manifest: %w", err)
		}
		if f := mcp.DialForwarder(ctx, manifest, version, cfg.MCP.Timeout); f != nil {
			p.forwarder = f
			p.closers = append(p.closers, f.Close)
			consumers = append(consumers, p.reporter.Guard("mcp", f))
			logging.Infow("mcp forwarding enabled", "targets", f.Targets())
		} else {
			logging.Warnw("mcp forwarding requested but no server is reachable")
		}
	}
	return consumers, nil
}

// buildSource returns the audio source to run, or for the websocket
// source the handler that feeds the engine instead.
func (p *pipeline) buildSource(input io.Reader) (audio.Source, http.Handler, error) {
	a := p.cfg.Audio
	block := a.BlockSamples
	if block <= 0 {
		block = audio.DefaultBlockSamples(a.SampleRate)
	}
	switch a.Source {
	case config.SourceStdin, config.SourceFile:
		if input == nil {
			rc, err := audio.OpenInput(a.Input)
			if err != nil {
				return nil, nil, fmt.Errorf("audio input: %w", err)
			}
			p.closers = append(p.closers, rc.Close)
			input = rc
		}
		return audio.NewReaderSource(input, a.SampleRate, block, a.Realtime), nil, nil
	case config.SourceWebSocket:
		return nil, audio.NewWSIngest(p.engine, a.SampleRate, block), nil
	case config.SourceDiscord:
		return audio.NewDiscordSource(audio.DiscordConfig{
			Token:        a.Discord.Token,
			GuildID:      a.Discord.GuildID,
			ChannelID:    a.Discord.ChannelID,
			AllowedUsers: a.Discord.AllowedUsers,
			SampleRate:   a.SampleRate,
			BlockSamples: block,
		}), nil, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown audio source %q", voice.ErrInvalidConfig, a.Source)
}

func logHooks() voice.Hooks {
	return voice.Hooks{
		OnModeChange: func(from, to voice.ListeningMode) {
			logging.Infow("mode changed", "from", from.String(), "to", to.String())
		},
		OnDispatch: func(r voice.DispatchResult) {
			if r.Outcome == voice.DispatchDeferred {
				return
			}
			logging.Infow("prompt dispatched", "outcome", r.Outcome.String(), "prompt.id", r.Prompt.ID, "text", r.Prompt.Text)
		},
		OnDegraded: func(err error, consecutive int) {
			logging.Warnw("decoder degraded", "err", err, "consecutive_failures", consecutive)
		},
		OnRecovered: func() {
			logging.Infow("decoder recovered")
		},
	}
}

// Run starts the engine and the configured surfaces and blocks until ctx
// is cancelled, the HTTP server fails, or a finite input has ended and
// its last prompt has been delivered.
func (p *pipeline) Run(ctx context.Context, drainTimeout time.Duration) error {
	p.engine.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if p.http != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.http.Run(ctx); err != nil {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	sourceDone := make(chan struct{})
	if p.source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(sourceDone)
			if err := p.source.Run(ctx, p.engine); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("audio: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	case <-sourceDone:
		select {
		case err = <-errCh:
		default:
		}
		if err == nil && p.isFinite() {
			logging.Infow("input ended; waiting for the last prompt")
			err = p.drain(ctx, drainTimeout)
		}
	}
	cancel()
	wg.Wait()
	return err
}

func (p *pipeline) isFinite() bool {
	s := p.cfg.Audio.Source
	return s == config.SourceStdin || s == config.SourceFile
}

// idle reports that every frame has been classified, nothing is waiting
// for the watchdog and every dispatched prompt has been delivered.
func (p *pipeline) idle(st voice.Status) bool {
	return st.QueuedFrames == 0 &&
		st.PendingFrames == 0 &&
		!st.WatchdogArmed &&
		len(st.PendingPrompt) == 0 &&
		p.delivered.Load()+st.DroppedPrompts >= st.Dispatched
}

func (p *pipeline) drain(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		st, err := p.engine.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logging.Warnw("drain interrupted", "timeout", timeout.String(), "err", ctx.Err())
				return nil
			}
			return err
		}
		if p.idle(st) {
			return nil
		}
		select {
		case <-ctx.Done():
			logging.Warnw("drain interrupted", "timeout", timeout.String(), "pending_fragments", len(st.PendingPrompt), "err", ctx.Err())
			return nil
		case <-tick.C:
		}
	}
}

// Close releases everything in reverse order of opening. It is safe to
// call on a partially built pipeline.
func (p *pipeline) Close() {
	p.closeOnce.Do(func() {
		if p.engine != nil {
			if err := p.engine.Close(); err != nil {
				logging.Warnw("engine close", "err", err)
			}
		}
		if p.hub != nil {
			p.hub.Close()
		}
		p.retention.Stop()
		for i := len(p.closers) - 1; i >= 0; i-- {
			if err := p.closers[i](); err != nil {
				logging.Warnw("close", "err", err)
			}
		}
		p.reporter.Flush(2 * time.Second)
	})
}
