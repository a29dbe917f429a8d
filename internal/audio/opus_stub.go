//go:build !opus

package audio

func newOpusDecoder(int) (pcmDecoder, error) { return nil, ErrOpusUnavailable }
