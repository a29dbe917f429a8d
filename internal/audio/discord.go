//go:build opus

package audio

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/voice-agent-lab/internal/logging"
)

// DiscordSource joins a voice channel and feeds every allowed speaker's
// audio to the sink. Each SSRC gets its own Opus decoder and blocker so
// blocks never mix speakers.
type DiscordSource struct {
	cfg DiscordConfig
}

func NewDiscordSource(cfg DiscordConfig) *DiscordSource {
	if cfg.BlockSamples <= 0 {
		cfg.BlockSamples = DefaultBlockSamples(cfg.SampleRate)
	}
	return &DiscordSource{cfg: cfg}
}

type ssrcStream struct {
	dec     pcmDecoder
	blocker *Blocker
}

func (d *DiscordSource) Run(ctx context.Context, sink Sink) error {
	if d.cfg.Token == "" || d.cfg.GuildID == "" || d.cfg.ChannelID == "" {
		return fmt.Errorf("discord source needs a bot token, guild id and voice channel id")
	}
	dg, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discordgo.New: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord session open: %w", err)
	}
	defer func() {
		if err := dg.Close(); err != nil {
			logging.Warnw("audio: discord session close error", "err", err)
		}
	}()

	resolver := newSessionResolver(dg)
	spk := newSpeakers(resolver, d.cfg.AllowedUsers)

	vc, err := dg.ChannelVoiceJoin(d.cfg.GuildID, d.cfg.ChannelID, true, false)
	if err != nil {
		return fmt.Errorf("voice join: %w", err)
	}
	defer func() {
		if err := vc.Disconnect(); err != nil {
			logging.Warnw("audio: voice disconnect error", "err", err)
		}
	}()
	vc.AddHandler(spk.handleSpeakingUpdate)
	logging.Infow("audio: joined voice channel", "guild_id", d.cfg.GuildID, "channel_id", d.cfg.ChannelID,
		"channel_name", resolver.ChannelName(d.cfg.ChannelID), "allowlist", len(d.cfg.AllowedUsers))

	streams := make(map[uint32]*ssrcStream)
	pumpPackets(ctx, vc.OpusRecv, func(ssrc uint32, payload []byte) {
		if !spk.allowed(ssrc) {
			return
		}
		st, ok := streams[ssrc]
		if !ok {
			dec, err := newOpusDecoder(d.cfg.SampleRate)
			if err != nil {
				logging.Errorw("audio: opus decoder init failed", "ssrc", ssrc, "err", err)
				return
			}
			st = &ssrcStream{dec: dec, blocker: NewBlocker(sink, d.cfg.BlockSamples)}
			streams[ssrc] = st
		}
		pcm, err := st.dec.Decode(payload)
		if err != nil {
			logging.Warnw("audio: opus decode error", "ssrc", ssrc, "user_id", spk.user(ssrc), "err", err)
			return
		}
		_, _ = st.blocker.Write(pcm)
	})
	for _, st := range streams {
		st.blocker.Flush()
	}
	return nil
}
