package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jotbook/jot/internal/backoff"
	"github.com/jotbook/jot/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider streams completions from the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retry        backoff.Policy
}

// OpenAIConfig configures an OpenAIProvider. APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retry:        backoff.Linear(cfg.RetryDelay, 15*time.Second),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    pickModel(req.Model, p.defaultModel),
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	// Stream creation retries with linear backoff; once the stream is open,
	// failures are terminal.
	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, p.retry, attempt); err != nil {
				return nil, err
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !retryableAPIError(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			select {
			case chunks <- Chunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}
		if err != nil {
			select {
			case chunks <- Chunk{Err: fmt.Errorf("openai: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			select {
			case chunks <- Chunk{Text: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func convertOpenAIMessages(messages []models.ChatMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return result
}
