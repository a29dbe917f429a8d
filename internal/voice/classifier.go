package voice

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/voice-agent-lab/internal/logging"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses runs of whitespace.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRun.ReplaceAllString(s, " ")
}

// NoiseFilter reports whether a normalized transcript is decoder noise
// that should be discarded.
type NoiseFilter func(normalized string) bool

// DefaultNoiseTokens are what small streaming models emit on silence.
var DefaultNoiseTokens = []string{"the"}

// NoiseTokens builds a filter dropping transcripts equal to one of tokens.
func NoiseTokens(tokens ...string) NoiseFilter {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t = Normalize(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return func(s string) bool {
		_, ok := set[s]
		return ok
	}
}

// Classifier runs the decoder for each frame and turns its output into at
// most one normalized transcript. It is owned by the classification loop
// and is not safe for concurrent use.
type Classifier struct {
	dec           Decoder
	filter        NoiseFilter
	degradedAfter int
	hooks         *Hooks
	now           func() time.Time

	consecutive int
	degraded    atomic.Bool
	failures    atomic.Int64
}

func NewClassifier(dec Decoder, filter NoiseFilter, degradedAfter int, hooks *Hooks) *Classifier {
	if filter == nil {
		filter = NoiseTokens(DefaultNoiseTokens...)
	}
	if hooks == nil {
		hooks = &Hooks{}
	}
	return &Classifier{dec: dec, filter: filter, degradedAfter: degradedAfter, hooks: hooks, now: time.Now}
}

// Classify decodes one frame. Decode errors are absorbed: the frame is
// treated as silent and false is returned.
func (c *Classifier) Classify(ctx context.Context, frame Frame) (Transcript, bool) {
	tr, err := c.dec.Accept(ctx, frame.Data)
	if err != nil {
		c.fail(ctx, frame, err)
		return Transcript{}, false
	}
	c.succeed()

	text := Normalize(tr.Text)
	if text == "" {
		return Transcript{}, false
	}
	if c.filter(text) {
		logging.Debugw("classifier: dropped noise transcript", "text", text, "finality", tr.Finality.String())
		return Transcript{}, false
	}
	tr.Text = text
	if tr.At.IsZero() {
		tr.At = c.now()
	}
	return tr, true
}

func (c *Classifier) fail(ctx context.Context, frame Frame, err error) {
	if errors.Is(err, ErrUnintelligible) {
		logging.Debugw("classifier: unintelligible frame", logging.FrameFields(frame.Seq, len(frame.Data))...)
		return
	}
	if ctx.Err() != nil {
		return
	}
	c.failures.Add(1)
	c.consecutive++
	logging.Warnw("classifier: decoder failure", append(logging.FrameFields(frame.Seq, len(frame.Data)), "err", err, "consecutive", c.consecutive)...)
	if c.degradedAfter > 0 && c.consecutive >= c.degradedAfter && c.degraded.CompareAndSwap(false, true) {
		logging.Errorw("classifier: decoder degraded", "err", err, "consecutive", c.consecutive)
		if c.hooks.OnDegraded != nil {
			c.hooks.OnDegraded(err, c.consecutive)
		}
	}
}

func (c *Classifier) succeed() {
	c.consecutive = 0
	if c.degraded.CompareAndSwap(true, false) {
		logging.Infow("classifier: decoder recovered")
		if c.hooks.OnRecovered != nil {
			c.hooks.OnRecovered()
		}
	}
}

// Degraded reports whether the decoder is currently considered degraded.
func (c *Classifier) Degraded() bool { return c.degraded.Load() }

// Failures is the total number of service failures seen.
func (c *Classifier) Failures() int64 { return c.failures.Load() }
