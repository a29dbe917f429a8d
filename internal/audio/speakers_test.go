package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestSpeakingUpdateMapsSSRC(t *testing.T) {
	s := newSpeakers(nil, nil)
	s.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "test-user-1", SSRC: 12345, Speaking: true})

	if got := s.user(12345); got != "test-user-1" {
		t.Fatalf("ssrc mapping mismatch: want=test-user-1 got=%s", got)
	}
}

func TestAllowlist(t *testing.T) {
	s := newSpeakers(nil, []string{"alice", ""})
	s.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 1})
	s.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bob", SSRC: 2})

	if !s.allowed(1) {
		t.Fatalf("alice should be allowed")
	}
	if s.allowed(2) {
		t.Fatalf("bob is outside the allowlist")
	}
	if !s.allowed(3) {
		t.Fatalf("unmapped ssrc should pass until a speaking update arrives")
	}

	open := newSpeakers(nil, nil)
	open.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bob", SSRC: 2})
	if !open.allowed(2) {
		t.Fatalf("empty allowlist admits everyone")
	}
}

// TestPumpPackets feeds a fake OpusRecv channel and checks every packet
// reaches the handler.
func TestPumpPackets(t *testing.T) {
	vc := &discordgo.VoiceConnection{}
	vc.OpusRecv = make(chan *discordgo.Packet, 3)

	var (
		mu    sync.Mutex
		ssrcs []uint32
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpPackets(context.Background(), vc.OpusRecv, func(ssrc uint32, payload []byte) {
			mu.Lock()
			ssrcs = append(ssrcs, ssrc)
			mu.Unlock()
		})
	}()

	vc.OpusRecv <- &discordgo.Packet{SSRC: 42, Opus: []byte{0x01, 0x02}}
	vc.OpusRecv <- nil
	vc.OpusRecv <- &discordgo.Packet{SSRC: 7, Opus: []byte{0x03}}
	close(vc.OpusRecv)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("pump did not stop after the channel closed")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ssrcs) != 2 || ssrcs[0] != 42 || ssrcs[1] != 7 {
		t.Fatalf("unexpected ssrcs: %v", ssrcs)
	}
}

func TestPumpPacketsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpPackets(ctx, make(chan *discordgo.Packet), func(uint32, []byte) {})
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("pump ignored cancellation")
	}
}
