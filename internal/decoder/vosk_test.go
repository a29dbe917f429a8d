package decoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voice-agent-lab/internal/voice"
)

// fakeVosk answers "end" frames with a final result and everything else
// with a partial, and remembers the config and eof messages it saw.
type fakeVosk struct {
	mu      sync.Mutex
	configs []int
	eof     bool
	conns   int
}

func (f *fakeVosk) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		f.mu.Lock()
		f.conns++
		f.mu.Unlock()

		var cfg voskConfigMessage
		if err := conn.ReadJSON(&cfg); err != nil {
			return
		}
		f.mu.Lock()
		f.configs = append(f.configs, cfg.Config.SampleRate)
		f.mu.Unlock()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && strings.Contains(string(data), "eof") {
				f.mu.Lock()
				f.eof = true
				f.mu.Unlock()
				return
			}
			var reply any
			switch string(data) {
			case "end":
				reply = map[string]string{"text": "hey agent lights"}
			case "drop":
				return
			default:
				reply = map[string]string{"partial": "hey"}
			}
			b, _ := json.Marshal(reply)
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func TestVoskStreamsPartialsAndFinals(t *testing.T) {
	fake := &fakeVosk{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	v, err := NewVosk(Config{URL: wsURL(srv), SampleRate: 16000})
	require.NoError(t, err)

	tr, err := v.Accept(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, voice.Partial, tr.Finality)
	assert.Equal(t, "hey", tr.Text)

	tr, err = v.Accept(context.Background(), []byte("end"))
	require.NoError(t, err)
	assert.Equal(t, voice.Final, tr.Finality)
	assert.Equal(t, "hey agent lights", tr.Text)

	require.NoError(t, v.Close())
	assert.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.eof
	}, waitShort, pollShort)

	fake.mu.Lock()
	assert.Equal(t, []int{16000}, fake.configs)
	fake.mu.Unlock()
}

func TestVoskReconnectsAfterFailure(t *testing.T) {
	fake := &fakeVosk{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	v, err := NewVosk(Config{URL: srv.URL, SampleRate: 8000})
	require.NoError(t, err)
	defer v.Close()

	_, err = v.Accept(context.Background(), []byte("drop"))
	require.Error(t, err)

	tr, err := v.Accept(context.Background(), []byte("end"))
	require.NoError(t, err)
	assert.Equal(t, "hey agent lights", tr.Text)

	fake.mu.Lock()
	assert.Equal(t, 2, fake.conns)
	fake.mu.Unlock()
}

func TestNewVoskRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host/x", "not a url"} {
		_, err := NewVosk(Config{URL: u, SampleRate: 16000})
		assert.ErrorIs(t, err, voice.ErrInvalidConfig, u)
	}
}
