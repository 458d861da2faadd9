// Package providers implements LLM backends for the notebook assistant.
//
// Each provider adapts one vendor SDK to a common streaming interface. The
// assistant asks for a completion and consumes text chunks as they arrive;
// providers surface transport and API failures as a terminal chunk error so
// the caller can fall back to an offline reply.
package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jotbook/jot/pkg/models"
)

// Chunk is one unit of a streamed completion. Text carries incremental
// response text. Done marks the end of a successful stream. Err is set on
// the final chunk when the stream failed.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Request describes one completion turn.
type Request struct {
	// System is the system prompt, sent out of band where the API supports it.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []models.ChatMessage

	// Model overrides the provider's configured model when non-empty.
	Model string

	// MaxTokens caps the generated response. Zero means provider default.
	MaxTokens int
}

// Provider is a single LLM backend.
type Provider interface {
	// Name returns the stable lowercase identifier used for routing,
	// configuration, and metrics labels.
	Name() string

	// Stream starts a completion and returns a channel of chunks. The
	// channel is closed after the terminal chunk (Done or Err set).
	// Cancelling ctx abandons the stream.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// UnknownProviderError is returned when a requested provider is not
// registered.
type UnknownProviderError struct {
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown provider %q (none configured)", e.Name)
	}
	return fmt.Sprintf("unknown provider %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Registry holds configured providers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRegistry builds an empty registry. defaultName selects the provider
// returned by Default.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  defaultName,
	}
}

// Register adds a provider under its Name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider, or the default when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.fallback
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, &UnknownProviderError{Name: name, Available: r.names()}
}

// Default returns the registry's configured default provider.
func (r *Registry) Default() (Provider, error) {
	return r.Get("")
}

// Names lists registered provider names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

// Collect drains a chunk stream into the full response text. It returns the
// first stream error encountered. onText, when non-nil, observes each text
// chunk as it arrives.
func Collect(ctx context.Context, chunks <-chan Chunk, onText func(string)) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return b.String(), nil
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			if chunk.Text != "" {
				b.WriteString(chunk.Text)
				if onText != nil {
					onText(chunk.Text)
				}
			}
			if chunk.Done {
				return b.String(), nil
			}
		}
	}
}
