package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/jotbook/jot/internal/backoff"
	"github.com/jotbook/jot/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider streams completions from the Anthropic Messages API.
// Safe for concurrent use. Each Stream call runs an independent goroutine.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retry        backoff.Policy
}

// AnthropicConfig configures an AnthropicProvider. APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retry:        backoff.Exponential(cfg.RetryDelay, 30*time.Second),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)

		var err error
		var emitted bool

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream := p.createStream(ctx, req)
			emitted, err = p.consume(ctx, stream, chunks)
			if err == nil {
				return
			}
			// Retrying after text has flowed would duplicate output.
			if emitted || !retryableAPIError(err) || attempt == p.maxRetries {
				break
			}
			if werr := backoff.Sleep(ctx, p.retry, attempt+1); werr != nil {
				err = werr
				break
			}
		}
		select {
		case chunks <- Chunk{Err: err}:
		case <-ctx.Done():
		}
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req Request) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(pickModel(req.Model, p.defaultModel)),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(pickMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	return p.client.Messages.NewStreaming(ctx, params)
}

// consume drains one SSE stream. It reports whether any text was emitted,
// which gates whether a failed attempt may be retried.
func (p *AnthropicProvider) consume(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk) (bool, error) {
	emitted := false
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				select {
				case chunks <- Chunk{Text: delta.Text}:
					emitted = true
				case <-ctx.Done():
					return emitted, ctx.Err()
				}
			}
		case "message_stop":
			select {
			case chunks <- Chunk{Done: true}:
			case <-ctx.Done():
			}
			return emitted, nil
		case "error":
			return emitted, errors.New("anthropic: stream error")
		}
	}
	if err := stream.Err(); err != nil {
		return emitted, err
	}
	// Stream ended without message_stop.
	select {
	case chunks <- Chunk{Done: true}:
	case <-ctx.Done():
	}
	return emitted, nil
}

func convertAnthropicMessages(messages []models.ChatMessage) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem || msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

func pickModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func pickMaxTokens(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

// retryableAPIError classifies transient failures worth another attempt:
// rate limits, 5xx responses, timeouts, and connection drops.
func retryableAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
