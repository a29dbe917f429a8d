// Package alerting reports pipeline failures to Sentry: the decoder going
// degraded and prompt consumers failing. Without a DSN every call is a
// no-op.
package alerting

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/voice"
)

type Config struct {
	DSN         string
	Environment string
	Release     string

	// beforeSend lets tests observe events without a network.
	beforeSend func(*sentry.Event) *sentry.Event
}

// Reporter owns its own Sentry hub so it never touches the global one.
type Reporter struct {
	hub *sentry.Hub
}

// New returns a disabled reporter when cfg.DSN is empty.
func New(cfg Config) (*Reporter, error) {
	if cfg.DSN == "" {
		return &Reporter{}, nil
	}
	opts := sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	}
	if cfg.beforeSend != nil {
		opts.BeforeSend = func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event { return cfg.beforeSend(e) }
	}
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	logging.Infow("alerting: sentry enabled", "environment", cfg.Environment)
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *Reporter) Enabled() bool { return r != nil && r.hub != nil }

// Capture reports err with the given tags.
func (r *Reporter) Capture(err error, level sentry.Level, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// Hooks reports entering and leaving degraded mode.
func (r *Reporter) Hooks() voice.Hooks {
	if !r.Enabled() {
		return voice.Hooks{}
	}
	return voice.Hooks{
		OnDegraded: func(err error, consecutive int) {
			r.Capture(err, sentry.LevelError, map[string]string{
				"component":            "decoder",
				"consecutive_failures": strconv.Itoa(consecutive),
			})
		},
		OnRecovered: func() {
			r.hub.WithScope(func(scope *sentry.Scope) {
				scope.SetLevel(sentry.LevelInfo)
				scope.SetTag("component", "decoder")
				r.hub.CaptureMessage("decoder recovered")
			})
		},
	}
}

// Guard reports consumer errors and passes them on. Cancellation during
// shutdown is not reported.
func (r *Reporter) Guard(name string, c voice.PromptConsumer) voice.PromptConsumer {
	if !r.Enabled() || c == nil {
		return c
	}
	return voice.ConsumerFunc(func(ctx context.Context, p voice.Prompt) error {
		err := c.OnPrompt(ctx, p)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.Capture(err, sentry.LevelError, map[string]string{
				"component": "consumer",
				"consumer":  name,
				"prompt.id": p.ID,
			})
		}
		return err
	})
}

// Flush waits up to timeout for queued events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}
