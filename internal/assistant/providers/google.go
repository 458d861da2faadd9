package providers

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/jotbook/jot/pkg/models"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleProvider streams completions from the Gemini API.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures a GoogleProvider. APIKey is required.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultGoogleModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	return &GoogleProvider{client: client, defaultModel: cfg.DefaultModel}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)

		model := pickModel(req.Model, p.defaultModel)
		contents := convertGoogleMessages(req.Messages)
		config := &genai.GenerateContentConfig{}
		if req.System != "" {
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: req.System}},
			}
		}
		if req.MaxTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxTokens)
		}

		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				select {
				case chunks <- Chunk{Err: fmt.Errorf("google: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil || part.Text == "" {
						continue
					}
					select {
					case chunks <- Chunk{Text: part.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}

		select {
		case chunks <- Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return chunks, nil
}

func convertGoogleMessages(messages []models.ChatMessage) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem || msg.Content == "" {
			continue
		}
		role := genai.RoleUser
		if msg.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		result = append(result, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return result
}
