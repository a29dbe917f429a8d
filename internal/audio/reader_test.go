package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voice-agent-lab/internal/voice"
)

func wavFile(pcm []byte, rate, channels int) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)+10))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	// an odd-sized chunk before data must be skipped with its pad byte
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.Write([]byte{0xAA, 0x00})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestReaderSourceRawPCM(t *testing.T) {
	sink := &sinkRecorder{}
	pcm := seqBytes(50)
	src := NewReaderSource(bytes.NewReader(pcm), 16000, 10, false)

	require.NoError(t, src.Run(context.Background(), sink))
	blocks := sink.got()
	require.Len(t, blocks, 3)
	assert.Len(t, blocks[0], 20)
	assert.Len(t, blocks[2], 10)
	assert.Equal(t, pcm, sink.total())
}

func TestReaderSourceSkipsWAVHeader(t *testing.T) {
	sink := &sinkRecorder{}
	pcm := seqBytes(40)
	src := NewReaderSource(bytes.NewReader(wavFile(pcm, 16000, 1)), 16000, 10, false)

	require.NoError(t, src.Run(context.Background(), sink))
	assert.Equal(t, pcm, sink.total())
}

func TestReaderSourceRejectsStereoWAV(t *testing.T) {
	src := NewReaderSource(bytes.NewReader(wavFile(seqBytes(8), 16000, 2)), 16000, 10, false)
	err := src.Run(context.Background(), &sinkRecorder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mono")
}

func TestReaderSourceRealtimePacing(t *testing.T) {
	sink := &sinkRecorder{}
	// 4 blocks of 10ms each at 8kHz
	src := NewReaderSource(bytes.NewReader(seqBytes(4*80*2)), 8000, 80, true)

	start := time.Now()
	require.NoError(t, src.Run(context.Background(), sink))
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Len(t, sink.got(), 4)
}

func TestReaderSourceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewReaderSource(bytes.NewReader(seqBytes(1000)), 8000, 80, true)
	require.NoError(t, src.Run(ctx, &sinkRecorder{}))
}

// slowDecoder takes a millisecond per block and hears nothing.
type slowDecoder struct{ frames atomic.Int64 }

func (d *slowDecoder) Accept(context.Context, []byte) (voice.Transcript, error) {
	time.Sleep(time.Millisecond)
	d.frames.Add(1)
	return voice.Transcript{}, nil
}

func (d *slowDecoder) Close() error { return nil }

func TestReaderSourceWaitsForSlowEngine(t *testing.T) {
	cfg := voice.DefaultEngineConfig()
	cfg.QueueCapacity = 4
	dec := &slowDecoder{}
	eng, err := voice.NewEngine(cfg, dec)
	require.NoError(t, err)
	eng.Start()
	defer eng.Close()

	const blocks = 50
	src := NewReaderSource(bytes.NewReader(make([]byte, blocks*32)), 16000, 16, false)
	require.NoError(t, src.Run(context.Background(), eng))

	require.Eventually(t, func() bool { return dec.frames.Load() == blocks }, 5*time.Second, 10*time.Millisecond)
	st, err := eng.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.DroppedFrames, "a file is never dropped, however slow the decoder")
}
