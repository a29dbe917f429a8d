package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/voice-agent-lab/internal/logging"
)

// ReaderSource streams raw PCM16LE mono from r. A RIFF/WAVE header at the
// start of the stream is detected and skipped. With realtime set, blocks
// are paced at the rate they would be spoken.
type ReaderSource struct {
	r            io.Reader
	sampleRate   int
	blockSamples int
	realtime     bool
}

func NewReaderSource(r io.Reader, sampleRate, blockSamples int, realtime bool) *ReaderSource {
	if blockSamples <= 0 {
		blockSamples = DefaultBlockSamples(sampleRate)
	}
	return &ReaderSource{r: r, sampleRate: sampleRate, blockSamples: blockSamples, realtime: realtime}
}

// OpenInput opens a named input: "-" or "stdin" for standard input,
// otherwise a file path.
func OpenInput(name string) (io.ReadCloser, error) {
	if name == "" || name == "-" || name == "stdin" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open audio input: %w", err)
	}
	return f, nil
}

// Run reads until EOF or ctx is done. The final short block is flushed.
// Without realtime pacing the reader outruns any decoder, so a sink that
// supports it is pushed to with backpressure instead of dropping blocks.
func (s *ReaderSource) Run(ctx context.Context, sink Sink) error {
	br := bufio.NewReaderSize(s.r, 64*1024)
	if err := skipWAVHeader(br); err != nil {
		return err
	}
	if ws, ok := sink.(WaitSink); ok && !s.realtime {
		sink = waiting{ctx: ctx, sink: ws}
	}
	blocker := NewBlocker(sink, s.blockSamples)
	buf := make([]byte, s.blockSamples*2)

	var pace *time.Ticker
	if s.realtime && s.sampleRate > 0 {
		pace = time.NewTicker(time.Duration(s.blockSamples) * time.Second / time.Duration(s.sampleRate))
		defer pace.Stop()
	}

	logging.Infow("audio: reader source started", "block_samples", s.blockSamples, "realtime", s.realtime)
	defer func() {
		logging.Infow("audio: reader source stopped", "blocks", blocker.Blocks(), "rejected", blocker.Rejected())
	}()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := io.ReadFull(br, buf)
		if n > 0 {
			if pace != nil {
				select {
				case <-ctx.Done():
					return nil
				case <-pace.C:
				}
			}
			_, _ = blocker.Write(buf[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			blocker.Flush()
			return nil
		default:
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

// skipWAVHeader consumes a RIFF/WAVE header up to the start of the data
// chunk. Anything else is left untouched and treated as raw PCM.
func skipWAVHeader(br *bufio.Reader) error {
	head, err := br.Peek(12)
	if err != nil || string(head[0:4]) != "RIFF" || string(head[8:12]) != "WAVE" {
		return nil
	}
	if _, err := br.Discard(12); err != nil {
		return err
	}
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return fmt.Errorf("read wav chunk header: %w", err)
		}
		size := binary.LittleEndian.Uint32(hdr[4:])
		if string(hdr[0:4]) == "data" {
			return nil
		}
		if string(hdr[0:4]) == "fmt " && size >= 16 {
			fmtChunk := make([]byte, size)
			if _, err := io.ReadFull(br, fmtChunk); err != nil {
				return fmt.Errorf("read wav fmt chunk: %w", err)
			}
			channels := binary.LittleEndian.Uint16(fmtChunk[2:])
			bits := binary.LittleEndian.Uint16(fmtChunk[14:])
			if channels != 1 || bits != 16 {
				return fmt.Errorf("wav input must be 16-bit mono, got %d-bit with %d channels", bits, channels)
			}
			continue
		}
		// chunks are word aligned
		if _, err := br.Discard(int(size + size&1)); err != nil {
			return fmt.Errorf("skip wav chunk %q: %w", hdr[0:4], err)
		}
	}
}
