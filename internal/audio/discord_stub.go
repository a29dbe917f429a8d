//go:build !opus

package audio

import "context"

// DiscordSource needs libopus; this build was made without it.
type DiscordSource struct{}

func NewDiscordSource(DiscordConfig) *DiscordSource { return &DiscordSource{} }

func (*DiscordSource) Run(context.Context, Sink) error { return ErrOpusUnavailable }
