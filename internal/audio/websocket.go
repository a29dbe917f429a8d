package audio

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voice-agent-lab/internal/logging"
)

const maxMessageBytes = 1 << 20

// WSIngest accepts audio from websocket clients. Binary messages carry
// PCM16LE mono at the configured rate, or Opus packets when the client
// connects with ?codec=opus. A text message "flush" pushes any buffered
// partial block. One client streams at a time: the engine has a single
// decoder, so a second concurrent stream is refused with 409 Conflict.
type WSIngest struct {
	sink         Sink
	sampleRate   int
	blockSamples int
	upgrader     websocket.Upgrader
	clients      atomic.Int64
}

func NewWSIngest(sink Sink, sampleRate, blockSamples int) *WSIngest {
	if blockSamples <= 0 {
		blockSamples = DefaultBlockSamples(sampleRate)
	}
	return &WSIngest{
		sink:         sink,
		sampleRate:   sampleRate,
		blockSamples: blockSamples,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Clients is the number of connected audio clients.
func (h *WSIngest) Clients() int64 { return h.clients.Load() }

func (h *WSIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.clients.CompareAndSwap(0, 1) {
		logging.Warnw("audio: refusing second websocket client", "remote", r.RemoteAddr)
		http.Error(w, "another audio client is connected", http.StatusConflict)
		return
	}
	defer h.clients.Store(0)

	var dec pcmDecoder
	switch codec := r.URL.Query().Get("codec"); codec {
	case "", "pcm":
	case "opus":
		d, err := newOpusDecoder(h.sampleRate)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrOpusUnavailable) {
				status = http.StatusNotImplemented
			}
			http.Error(w, err.Error(), status)
			return
		}
		dec = d
	default:
		http.Error(w, "unsupported codec "+codec, http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("audio: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	id := uuid.NewString()
	blocker := NewBlocker(h.sink, h.blockSamples)
	logging.Infow("audio: websocket client connected", "client_id", id, "remote", r.RemoteAddr, "opus", dec != nil)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debugw("audio: websocket read ended", "client_id", id, "err", err)
			}
			break
		}
		if kind == websocket.TextMessage {
			if string(data) == "flush" {
				blocker.Flush()
			}
			continue
		}
		if dec != nil {
			pcm, err := dec.Decode(data)
			if err != nil {
				logging.Warnw("audio: opus decode error", "client_id", id, "err", err)
				continue
			}
			data = pcm
		}
		_, _ = blocker.Write(data)
	}
	blocker.Flush()
	logging.Infow("audio: websocket client disconnected", "client_id", id, "blocks", blocker.Blocks(), "rejected", blocker.Rejected())
}
