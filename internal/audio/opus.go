//go:build opus

package audio

import (
	"encoding/binary"

	"github.com/hraban/opus"
)

// maxOpusFrameMs is the longest Opus frame duration.
const maxOpusFrameMs = 120

type opusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

// newOpusDecoder decodes straight to mono at sampleRate; libopus does the
// downmix and resampling.
func newOpusDecoder(sampleRate int) (pcmDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &opusDecoder{dec: dec, pcm: make([]int16, sampleRate*maxOpusFrameMs/1000)}, nil
}

func (d *opusDecoder) Decode(packet []byte) ([]byte, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2*n)
	for i, s := range d.pcm[:n] {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out, nil
}
