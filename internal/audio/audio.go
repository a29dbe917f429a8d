// Package audio gets PCM16LE mono audio into the engine: from a reader
// (stdin or a file), from websocket clients, or from a Discord voice
// channel. Every source re-chunks its input into fixed-size blocks.
package audio

import (
	"context"
	"errors"
)

// ErrOpusUnavailable is returned by Opus-dependent sources in builds
// without the opus tag.
var ErrOpusUnavailable = errors.New("opus support not compiled in (build with -tags opus)")

// Sink receives audio blocks. Push reports false when the block was not
// accepted; sources keep going either way.
type Sink interface {
	Push(frame []byte) bool
}

// WaitSink is a Sink that can also apply backpressure. Sources that are
// not bound to real time use PushWait so no audio is dropped.
type WaitSink interface {
	Sink
	PushWait(ctx context.Context, frame []byte) error
}

// waiting adapts a WaitSink to Sink by waiting for room on every push.
type waiting struct {
	ctx  context.Context
	sink WaitSink
}

func (w waiting) Push(frame []byte) bool { return w.sink.PushWait(w.ctx, frame) == nil }

// Source produces audio until ctx is cancelled or the input ends.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// DefaultBlockSamples is half a second of audio.
func DefaultBlockSamples(sampleRate int) int { return sampleRate / 2 }

// pcmDecoder turns one compressed packet into PCM16LE mono bytes.
type pcmDecoder interface {
	Decode(packet []byte) ([]byte, error)
}
