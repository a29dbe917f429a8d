// Package decoder holds the speech-to-text backends the engine can run
// with. A backend is chosen once, by name, when the process starts.
package decoder

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voice-agent-lab/internal/voice"
)

// ErrUnknownDecoder is returned by New for an unregistered name.
var ErrUnknownDecoder = errors.New("unknown decoder")

// Config is shared by all backends; each reads the fields it needs.
type Config struct {
	Name       string
	URL        string
	AuthToken  string
	Model      string
	Language   string
	BeamSize   int
	Translate  bool
	SampleRate int
	Timeout    time.Duration

	// whisper-http utterance segmentation
	SilenceRMS      int
	TrailingSilence time.Duration
	MaxUtterance    time.Duration
	PartialInterval time.Duration
	Attempts        int
	RetryBackoff    time.Duration
}

// Factory builds a decoder from cfg.
type Factory func(cfg Config) (voice.Decoder, error)

type backend struct {
	factory Factory
	noise   []string
	about   string
}

var (
	mu       sync.RWMutex
	backends = map[string]backend{}
)

// Register adds a backend. Registering a name twice replaces it.
func Register(name, about string, noise []string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	backends[name] = backend{factory: f, noise: noise, about: about}
}

// New builds the decoder named by cfg.Name. Unknown names and invalid
// settings are configuration errors.
func New(cfg Config) (voice.Decoder, error) {
	mu.RLock()
	b, ok := backends[cfg.Name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w %q (known: %v)", voice.ErrInvalidConfig, ErrUnknownDecoder, cfg.Name, Names())
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", voice.ErrInvalidConfig, cfg.SampleRate)
	}
	return b.factory(cfg)
}

// NoiseFilter returns the noise filter suited to the named backend.
func NoiseFilter(name string) voice.NoiseFilter {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok || len(b.noise) == 0 {
		return voice.NoiseTokens(voice.DefaultNoiseTokens...)
	}
	return voice.NoiseTokens(b.noise...)
}

// Names lists registered backends in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Describe returns the one-line description of a backend.
func Describe(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	return backends[name].about
}
