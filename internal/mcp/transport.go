package mcp

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-agent-lab/internal/logging"
)

// wsConn carries one MCP session over an established websocket, one
// JSON-RPC message per text frame. It is its own Transport: Connect hands
// back the same connection, so it can only be connected once.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writers
}

func newWebSocketTransport(ws *websocket.Conn) sdk.Transport {
	return &wsConn{ws: ws}
}

func (c *wsConn) Connect(context.Context) (sdk.Connection, error) { return c, nil }

func (c *wsConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
		defer c.ws.SetReadDeadline(time.Time{})
	}
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return jsonrpc.DecodeMessage(payload)
	}
}

func (c *wsConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	payload, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) SessionID() string { return "" }

const writeTimeout = 10 * time.Second

// stderrLog forwards a child server's stderr to the debug log, one entry
// per line.
type stderrLog struct {
	server  string
	mu      sync.Mutex
	pending []byte
}

func (l *stderrLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(l.pending[:i])); line != "" {
			logging.Debugw("mcp: server stderr", "server", l.server, "line", line)
		}
		l.pending = l.pending[i+1:]
	}
	return len(p), nil
}
