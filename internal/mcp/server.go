// Package mcp exposes the engine to MCP clients and forwards dispatched
// prompts to MCP servers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/voice-agent-lab/internal/journal"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/voice"
)

// Controller is the part of the engine the tools drive.
type Controller interface {
	Status(ctx context.Context) (voice.Status, error)
	Reset(ctx context.Context) error
}

// History supplies recent prompts. journal.Store satisfies it.
type History interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
}

const (
	defaultRecent = 10
	maxRecent     = 100
)

type recentArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"how many prompts to return, newest first (default 10, max 100)"`
}

type noArgs struct{}

// Server is an MCP server with the status, reset and recent_prompts tools.
type Server struct {
	server   *sdk.Server
	upgrader websocket.Upgrader
	sessions atomic.Int64
}

// NewServer registers the tools. history may be nil, in which case
// recent_prompts is not offered.
func NewServer(version string, ctl Controller, history History) *Server {
	s := &Server{
		server:   sdk.NewServer(&sdk.Implementation{Name: "voice-agent-lab", Version: version}, nil),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "status",
		Description: "Report the listening mode, pending prompt fragments and pipeline counters.",
	}, func(ctx context.Context, _ *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
		st, err := ctl.Status(ctx)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(st)
	})

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "reset",
		Description: "Abandon any utterance in progress and return to passive listening.",
	}, func(ctx context.Context, _ *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
		if err := ctl.Reset(ctx); err != nil {
			return nil, nil, err
		}
		logging.Infow("mcp: engine reset by tool call")
		return textResult("reset"), nil, nil
	})

	if history != nil {
		sdk.AddTool(s.server, &sdk.Tool{
			Name:        "recent_prompts",
			Description: "List recently dispatched prompts with their replies.",
		}, func(ctx context.Context, _ *sdk.CallToolRequest, args recentArgs) (*sdk.CallToolResult, any, error) {
			n := args.Limit
			if n <= 0 {
				n = defaultRecent
			}
			if n > maxRecent {
				n = maxRecent
			}
			entries, err := history.Recent(ctx, n)
			if err != nil {
				return nil, nil, err
			}
			if entries == nil {
				entries = []journal.Entry{}
			}
			return jsonResult(entries)
		})
	}
	return s
}

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(data)), nil, nil
}

// Sessions reports how many clients are connected.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

// Serve runs one session over t until the peer disconnects or ctx ends.
func (s *Server) Serve(ctx context.Context, t sdk.Transport) error {
	session, err := s.server.Connect(ctx, t, nil)
	if err != nil {
		return err
	}
	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	stop := context.AfterFunc(ctx, func() { _ = session.Close() })
	defer stop()
	err = session.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ServeHTTP upgrades to a websocket and serves an MCP session on it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	logging.Infow("mcp: session opened", "remote", r.RemoteAddr)
	err = s.Serve(r.Context(), newWebSocketTransport(conn))
	if err != nil && !isClosedErr(err) {
		logging.Warnw("mcp: session ended with error", "remote", r.RemoteAddr, "err", err)
		return
	}
	logging.Infow("mcp: session closed", "remote", r.RemoteAddr)
}

func isClosedErr(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, io.EOF)
}
