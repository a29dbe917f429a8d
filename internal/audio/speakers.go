package audio

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/voice-agent-lab/internal/logging"
)

// DiscordConfig selects the voice channel to listen to.
type DiscordConfig struct {
	Token        string
	GuildID      string
	ChannelID    string
	AllowedUsers []string
	SampleRate   int
	BlockSamples int
}

// speakers maps voice SSRCs to user IDs, learned from speaking updates,
// and applies the user allowlist.
type speakers struct {
	resolver NameResolver

	mu    sync.RWMutex
	ssrc  map[uint32]string
	allow map[string]struct{}
}

func newSpeakers(resolver NameResolver, allowed []string) *speakers {
	if resolver == nil {
		resolver = noopResolver{}
	}
	s := &speakers{resolver: resolver, ssrc: make(map[uint32]string), allow: make(map[string]struct{})}
	for _, id := range allowed {
		if id != "" {
			s.allow[id] = struct{}{}
		}
	}
	return s
}

func (s *speakers) handleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	s.mu.Lock()
	s.ssrc[uint32(su.SSRC)] = su.UserID
	s.mu.Unlock()
	logging.Infow("audio: mapped ssrc to user", append(logging.UserFields(su.UserID, s.resolver.UserName(su.UserID)), "ssrc", su.SSRC)...)
}

func (s *speakers) user(ssrc uint32) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ssrc[ssrc]
}

// allowed drops audio only from users known to be outside a non-empty
// allowlist; unmapped SSRCs pass until a speaking update arrives.
func (s *speakers) allowed(ssrc uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allow) == 0 {
		return true
	}
	uid := s.ssrc[ssrc]
	if uid == "" {
		return true
	}
	_, ok := s.allow[uid]
	return ok
}

// pumpPackets forwards received voice packets until recv closes or ctx is
// done.
func pumpPackets(ctx context.Context, recv <-chan *discordgo.Packet, handle func(ssrc uint32, payload []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-recv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			handle(pkt.SSRC, pkt.Opus)
		}
	}
}
