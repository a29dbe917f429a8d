package voice

import (
	"context"
	"errors"
	"fmt"
)

// Fanout delivers each prompt to every consumer in order. A failing
// consumer does not stop the others; their errors are joined.
func Fanout(consumers ...PromptConsumer) PromptConsumer {
	live := make([]PromptConsumer, 0, len(consumers))
	for _, c := range consumers {
		if c != nil {
			live = append(live, c)
		}
	}
	return ConsumerFunc(func(ctx context.Context, p Prompt) error {
		var errs []error
		for i, c := range live {
			if err := c.OnPrompt(ctx, p); err != nil {
				errs = append(errs, fmt.Errorf("consumer %d: %w", i, err))
			}
		}
		return errors.Join(errs...)
	})
}

// JoinHooks combines observers; each callback runs the non-nil callbacks
// of hs in order.
func JoinHooks(hs ...Hooks) Hooks {
	var out Hooks
	for _, h := range hs {
		out.OnTranscript = chain1(out.OnTranscript, h.OnTranscript)
		out.OnDispatch = chain1(out.OnDispatch, h.OnDispatch)
		if prev, next := out.OnModeChange, h.OnModeChange; next != nil {
			out.OnModeChange = func(from, to ListeningMode) {
				if prev != nil {
					prev(from, to)
				}
				next(from, to)
			}
		}
		if prev, next := out.OnDegraded, h.OnDegraded; next != nil {
			out.OnDegraded = func(err error, n int) {
				if prev != nil {
					prev(err, n)
				}
				next(err, n)
			}
		}
		if prev, next := out.OnRecovered, h.OnRecovered; next != nil {
			out.OnRecovered = func() {
				if prev != nil {
					prev()
				}
				next()
			}
		}
	}
	return out
}

func chain1[T any](prev, next func(T)) func(T) {
	switch {
	case next == nil:
		return prev
	case prev == nil:
		return next
	}
	return func(v T) {
		prev(v)
		next(v)
	}
}
