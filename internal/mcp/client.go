package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/mcp/config"
)

// ErrNotConnected is returned by calls made on a client without a session.
var ErrNotConnected = errors.New("mcp client not connected")

// ErrToolFailed wraps a tool result that came back with IsError set.
var ErrToolFailed = errors.New("mcp tool reported an error")

const (
	defaultKeepAlive = 30 * time.Second
	// commandGrace is how long a spawned server gets to exit after its
	// stdin is closed.
	commandGrace = 2 * time.Second
)

// Client holds one session to an MCP server reached over websocket or a
// spawned command, and pings it periodically while connected.
type Client struct {
	name      string
	client    *sdk.Client
	keepAlive time.Duration

	mu              sync.Mutex
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
}

// NewClient creates an unconnected client identifying itself as
// name/version to servers.
func NewClient(name, version string) *Client {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &Client{
		name:      name,
		client:    sdk.NewClient(impl, nil),
		keepAlive: defaultKeepAlive,
	}
}

// Dial connects using a manifest entry: a transport URL when present,
// otherwise the command.
func (c *Client) Dial(ctx context.Context, server string, sc config.ServerConfig) error {
	if sc.Transport != nil && sc.Transport.URL != "" {
		switch strings.ToLower(sc.Transport.Type) {
		case "", "ws", "websocket":
			return c.ConnectWebSocket(ctx, sc.Transport.URL)
		default:
			return fmt.Errorf("mcp server %s: transport %q not supported", server, sc.Transport.Type)
		}
	}
	return c.ConnectCommand(ctx, server, sc.Command, sc.Args, sc.Env)
}

// ConnectWebSocket dials rawurl, accepting http(s) as an alias for ws(s).
func (c *Client) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial mcp websocket: %w", err)
	}
	if err := c.connect(ctx, newWebSocketTransport(conn)); err != nil {
		_ = conn.Close()
		return err
	}
	logging.Infow("mcp: client connected", "client", c.name, "url", u.String())
	return nil
}

// ConnectCommand spawns a local MCP server and talks to it over stdio.
// Its stderr is forwarded to the log. Closing the session closes the
// server's stdin and waits for it to exit.
func (c *Client) ConnectCommand(ctx context.Context, server, command string, args []string, env map[string]string) error {
	if command == "" {
		return fmt.Errorf("mcp server %s: command is required", server)
	}
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stderr = &stderrLog{server: server}
	transport := &sdk.CommandTransport{Command: cmd, TerminateDuration: commandGrace}
	if err := c.connect(ctx, transport); err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		return fmt.Errorf("start mcp server %s: %w", server, err)
	}
	logging.Infow("mcp: command server started", "server", server, "command", command, "args", strings.Join(args, " "))
	return nil
}

func (c *Client) connect(ctx context.Context, transport sdk.Transport) error {
	sess, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	kaCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
	}
	c.session = sess
	c.keepaliveCancel = cancel
	interval := c.keepAlive
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				pingCtx, done := context.WithTimeout(kaCtx, interval/2)
				if err := sess.Ping(pingCtx, nil); err != nil && kaCtx.Err() == nil {
					logging.Warnw("mcp: keepalive ping failed", "client", c.name, "err", err)
				}
				done()
			}
		}
	}()
	return nil
}

func (c *Client) currentSession() *sdk.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CallTool invokes a tool and returns its text content joined by
// newlines. A result flagged IsError comes back as ErrToolFailed.
func (c *Client) CallTool(ctx context.Context, tool string, args any) (string, error) {
	sess := c.currentSession()
	if sess == nil {
		return "", ErrNotConnected
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", tool, err)
	}
	text := resultText(res)
	if res.IsError {
		return text, fmt.Errorf("%w: %s: %s", ErrToolFailed, tool, text)
	}
	return text, nil
}

func resultText(res *sdk.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if t, ok := content.(*sdk.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			errs = append(errs, err)
		}
		c.session = nil
	}
	return errors.Join(errs...)
}
