package audio

import "sync/atomic"

// Blocker re-chunks an arbitrary byte stream into blocks of exactly
// blockSamples PCM16 samples. It is not safe for concurrent writers.
type Blocker struct {
	sink Sink
	size int
	buf  []byte

	blocks   atomic.Int64
	rejected atomic.Int64
}

func NewBlocker(sink Sink, blockSamples int) *Blocker {
	if blockSamples <= 0 {
		blockSamples = 1
	}
	size := blockSamples * 2
	return &Blocker{sink: sink, size: size, buf: make([]byte, 0, size)}
}

// Write implements io.Writer. It never fails; rejected blocks are counted.
func (b *Blocker) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		room := b.size - len(b.buf)
		if room > len(p) {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
		p = p[room:]
		if len(b.buf) == b.size {
			b.emit()
		}
	}
	return n, nil
}

// Flush pushes a trailing partial block, trimmed to whole samples.
func (b *Blocker) Flush() {
	b.buf = b.buf[:len(b.buf)&^1]
	if len(b.buf) > 0 {
		b.emit()
	}
}

func (b *Blocker) emit() {
	b.blocks.Add(1)
	if !b.sink.Push(b.buf) {
		b.rejected.Add(1)
	}
	// the sink copies; reuse the buffer
	b.buf = b.buf[:0]
}

// Blocks is the number of blocks emitted so far.
func (b *Blocker) Blocks() int64 { return b.blocks.Load() }

// Rejected is the number of blocks the sink did not accept.
func (b *Blocker) Rejected() int64 { return b.rejected.Load() }
