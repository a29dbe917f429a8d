// Package llm sends completed prompts to a chat model and hands the reply
// on to speech and the journal.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voice-agent-lab/internal/logging"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Provider      string
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	// MaxTokens caps every request.
	MaxTokens int
	Timeout   time.Duration
}

type ChatRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

type ChatResponse struct {
	ID      string
	Model   string
	Content string
}

// backend performs one completion against one model.
type backend interface {
	complete(ctx context.Context, model string, req ChatRequest) (ChatResponse, error)
	// classify maps a backend error onto ErrPermanent or ErrTransient.
	classify(err error) error
}

type Client struct {
	cfg     Config
	backend backend
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	c := &Client{cfg: cfg}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		opts := []option.RequestOption{option.WithHTTPClient(hc), option.WithMaxRetries(0)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
		}
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		oc := openai.NewClient(opts...)
		c.backend = &openaiBackend{client: &oc}
		if c.cfg.Model == "" {
			c.cfg.Model = "local"
		}
	case ProviderAnthropic:
		opts := []aoption.RequestOption{aoption.WithHTTPClient(hc), aoption.WithMaxRetries(0)}
		if cfg.BaseURL != "" {
			opts = append(opts, aoption.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
		}
		if cfg.APIKey != "" {
			opts = append(opts, aoption.WithAPIKey(cfg.APIKey))
		}
		ac := anthropic.NewClient(opts...)
		c.backend = &anthropicBackend{client: &ac}
		if c.cfg.Model == "" {
			c.cfg.Model = string(anthropic.ModelClaudeSonnet4_5)
		}
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return c, nil
}

// CreateChatCompletion runs req against the configured model. Transient
// failures are retried once on the fallback model when one is set.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 512
	}
	if req.MaxTokens > c.cfg.MaxTokens {
		req.MaxTokens = c.cfg.MaxTokens
	}

	resp, err := c.backend.complete(ctx, model, req)
	if err == nil {
		return resp, nil
	}
	err = c.backend.classify(err)
	fallback := c.cfg.FallbackModel
	if !errors.Is(err, ErrTransient) || fallback == "" || fallback == model {
		return ChatResponse{}, err
	}

	logging.Warnw("llm: primary model failed, trying fallback", "model", model, "fallback", fallback, "err", err)
	select {
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}
	resp, ferr := c.backend.complete(ctx, fallback, req)
	if ferr != nil {
		return ChatResponse{}, fmt.Errorf("fallback %s: %w", fallback, c.backend.classify(ferr))
	}
	return resp, nil
}

// classifyStatus treats 429 and 5xx as transient and other HTTP errors as
// permanent.
func classifyStatus(status int, err error) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: status %d: %v", ErrTransient, status, err)
	}
	return fmt.Errorf("%w: status %d: %v", ErrPermanent, status, err)
}

type openaiBackend struct {
	client *openai.Client
}

func (b *openaiBackend) complete(ctx context.Context, model string, req ChatRequest) (ChatResponse, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))
	out, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  msgs,
		MaxTokens: openai.Int(int64(req.MaxTokens)),
	})
	if err != nil {
		return ChatResponse{}, err
	}
	resp := ChatResponse{ID: out.ID, Model: out.Model}
	if len(out.Choices) > 0 {
		resp.Content = out.Choices[0].Message.Content
	}
	return resp, nil
}

func (b *openaiBackend) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(apierr.StatusCode, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

type anthropicBackend struct {
	client *anthropic.Client
}

func (b *anthropicBackend) complete(ctx context.Context, model string, req ChatRequest) (ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return ChatResponse{ID: msg.ID, Model: string(msg.Model), Content: sb.String()}, nil
}

func (b *anthropicBackend) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return classifyStatus(apierr.StatusCode, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
