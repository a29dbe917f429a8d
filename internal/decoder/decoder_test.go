package decoder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voice-agent-lab/internal/voice"
)

const (
	waitShort = time.Second
	pollShort = 5 * time.Millisecond
)

func TestNewUnknownDecoder(t *testing.T) {
	_, err := New(Config{Name: "nope", SampleRate: 16000})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDecoder)
	assert.ErrorIs(t, err, voice.ErrInvalidConfig)
}

func TestNewRejectsSampleRate(t *testing.T) {
	_, err := New(Config{Name: WhisperHTTP, URL: "http://localhost:9000/asr"})
	assert.ErrorIs(t, err, voice.ErrInvalidConfig)
}

func TestBuiltinsRegistered(t *testing.T) {
	names := Names()
	assert.Contains(t, names, WhisperHTTP)
	assert.Contains(t, names, VoskWS)
	assert.NotEmpty(t, Describe(WhisperHTTP))

	dec, err := New(Config{Name: WhisperHTTP, URL: "http://localhost:9000/asr", SampleRate: 16000})
	require.NoError(t, err)
	assert.IsType(t, &Whisper{}, dec)
	require.NoError(t, dec.Close())
}

func TestRegisterCustomBackend(t *testing.T) {
	Register("fixed", "always says hello", []string{"um"}, func(Config) (voice.Decoder, error) {
		return fixedDecoder{}, nil
	})
	dec, err := New(Config{Name: "fixed", SampleRate: 16000})
	require.NoError(t, err)
	tr, err := dec.Accept(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)

	filter := NoiseFilter("fixed")
	assert.True(t, filter("um"))
	assert.False(t, filter("the"))
	assert.True(t, NoiseFilter("missing")("the"), "unknown backends get the default tokens")
}

func TestWhisperNoiseFilter(t *testing.T) {
	f := NoiseFilter(WhisperHTTP)
	assert.True(t, f("thanks for watching!"))
	assert.True(t, f("you"))
	assert.False(t, f("hey agent"))
}

type fixedDecoder struct{}

func (fixedDecoder) Accept(context.Context, []byte) (voice.Transcript, error) {
	return voice.Transcript{Text: "hello", Finality: voice.Final}, nil
}
func (fixedDecoder) Close() error { return nil }
