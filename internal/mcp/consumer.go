package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/mcp/config"
	"github.com/voice-agent-lab/internal/voice"
)

// DefaultPromptTool is called on servers whose manifest entry names no tool.
const DefaultPromptTool = "submit_prompt"

type target struct {
	name   string
	tool   string
	client *Client
}

// Forwarder hands each dispatched prompt to a tool on every connected MCP
// server.
type Forwarder struct {
	targets []target
	timeout time.Duration
}

// PromptArgs is the argument object sent with each tool call.
type PromptArgs struct {
	ID           string   `json:"prompt_id"`
	Text         string   `json:"text"`
	Fragments    []string `json:"fragments,omitempty"`
	DispatchedAt string   `json:"dispatched_at"`
}

// DialForwarder connects to every enabled server in the manifest. Servers
// that cannot be reached are logged and skipped; a forwarder with no
// targets is returned as nil.
func DialForwarder(ctx context.Context, manifest config.Result, version string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	f := &Forwarder{timeout: timeout}
	for _, name := range manifest.Enabled() {
		sc := manifest.Servers[name]
		c := NewClient("voice-agent-lab", version)
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Dial(dialCtx, name, sc)
		cancel()
		if err != nil {
			logging.Warnw("mcp: server unavailable, prompts will not be forwarded to it", "server", name, "err", err)
			_ = c.Close()
			continue
		}
		f.add(name, sc.Tool, c)
	}
	if len(f.targets) == 0 {
		return nil
	}
	return f
}

func (f *Forwarder) add(name, tool string, c *Client) {
	if tool == "" {
		tool = DefaultPromptTool
	}
	f.targets = append(f.targets, target{name: name, tool: tool, client: c})
}

// Targets lists the connected server names.
func (f *Forwarder) Targets() []string {
	out := make([]string, len(f.targets))
	for i, t := range f.targets {
		out[i] = t.name
	}
	return out
}

func (f *Forwarder) OnPrompt(ctx context.Context, p voice.Prompt) error {
	args := PromptArgs{
		ID:           p.ID,
		Text:         p.Text,
		Fragments:    p.Fragments,
		DispatchedAt: p.DispatchedAt.UTC().Format(time.RFC3339Nano),
	}
	var errs []error
	for _, t := range f.targets {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		reply, err := t.client.CallTool(callCtx, t.tool, args)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: %w", t.name, err))
			continue
		}
		logging.Infow("mcp: prompt forwarded", append(logging.PromptFields(p.ID, len(p.Fragments)), "server", t.name, "tool", t.tool, "reply_chars", len(reply))...)
	}
	return errors.Join(errs...)
}

func (f *Forwarder) Close() error {
	var errs []error
	for _, t := range f.targets {
		errs = append(errs, t.client.Close())
	}
	return errors.Join(errs...)
}

var _ voice.PromptConsumer = (*Forwarder)(nil)
