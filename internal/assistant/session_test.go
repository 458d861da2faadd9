package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jotbook/jot/internal/assistant/providers"
	"github.com/jotbook/jot/internal/notebook"
	"github.com/jotbook/jot/pkg/models"
)

// scriptedProvider replays a fixed reply, optionally failing the stream.
type scriptedProvider struct {
	name     string
	reply    string
	dialErr  error
	streamAt int // fail after this many chunks; -1 never
	requests []providers.Request
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Stream(ctx context.Context, req providers.Request) (<-chan providers.Chunk, error) {
	p.requests = append(p.requests, req)
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	ch := make(chan providers.Chunk)
	go func() {
		defer close(ch)
		sent := 0
		for _, word := range strings.SplitAfter(p.reply, " ") {
			if p.streamAt >= 0 && sent >= p.streamAt {
				ch <- providers.Chunk{Err: errors.New("connection reset")}
				return
			}
			ch <- providers.Chunk{Text: word}
			sent++
		}
		ch <- providers.Chunk{Done: true}
	}()
	return ch, nil
}

func newTestSession(t *testing.T, p providers.Provider) (*Session, *notebook.Store) {
	t.Helper()
	store := notebook.NewStore("nb")
	registry := providers.NewRegistry(p.Name())
	registry.Register(p)
	session := NewSession(SessionConfig{
		Registry:   registry,
		Dispatcher: NewDispatcher(store, &fakeExecutor{store: store}, newFakeFiles(), nil, nil),
		Store:      store,
		Provider:   p.Name(),
	})
	return session, store
}

func TestTurnAppliesActions(t *testing.T) {
	p := &scriptedProvider{
		name:     "scripted",
		streamAt: -1,
		reply: "Creating a cell. ```json\n" +
			`{"message":"Cell created","actions":[{"tool":"createCell","params":{"source":"x = 1"}}]}` +
			"\n```",
	}
	session, store := newTestSession(t, p)

	var streamed strings.Builder
	result, err := session.Turn(context.Background(), "make a cell", func(chunk string) {
		streamed.WriteString(chunk)
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}

	if streamed.Len() == 0 {
		t.Fatal("no chunks streamed to caller")
	}
	if len(result.Results) != 1 || !result.Results[0].Success {
		t.Fatalf("results = %+v", result.Results)
	}
	if store.Len() != 1 {
		t.Fatalf("cells = %d, want 1", store.Len())
	}
	if result.Reply.Offline {
		t.Fatal("live reply tagged offline")
	}
	if !strings.Contains(result.Reply.Content, "Cell created") {
		t.Fatalf("reply = %q", result.Reply.Content)
	}

	conv := session.Conversation()
	if len(conv.Messages) != 2 {
		t.Fatalf("history = %d messages, want user + assistant", len(conv.Messages))
	}
	if conv.Messages[0].Role != models.RoleUser || conv.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("history roles = %s, %s", conv.Messages[0].Role, conv.Messages[1].Role)
	}
}

func TestTurnOfflineFallback(t *testing.T) {
	p := &scriptedProvider{name: "scripted", dialErr: errors.New("no route to host")}
	session, store := newTestSession(t, p)

	result, err := session.Turn(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !result.Reply.Offline {
		t.Fatal("fallback reply not tagged offline")
	}
	if result.Reply.Content == "" {
		t.Fatal("fallback reply is empty")
	}
	if len(result.Results) != 0 {
		t.Fatalf("offline turn dispatched actions: %+v", result.Results)
	}
	if store.Len() != 0 {
		t.Fatal("offline turn mutated the notebook")
	}
}

func TestOfflineRepliesExcludedFromPrompt(t *testing.T) {
	p := &scriptedProvider{name: "scripted", dialErr: errors.New("down")}
	session, _ := newTestSession(t, p)

	if _, err := session.Turn(context.Background(), "first", nil); err != nil {
		t.Fatalf("turn: %v", err)
	}

	p.dialErr = nil
	p.reply = "back online"
	p.streamAt = -1
	if _, err := session.Turn(context.Background(), "second", nil); err != nil {
		t.Fatalf("turn: %v", err)
	}

	last := p.requests[len(p.requests)-1]
	for _, msg := range last.Messages {
		if msg.Offline || strings.Contains(msg.Content, "could not reach") {
			t.Fatalf("offline filler leaked into prompt: %+v", msg)
		}
	}
}

func TestTurnRendersFailedResults(t *testing.T) {
	p := &scriptedProvider{
		name:     "scripted",
		streamAt: -1,
		reply:    "```json\n{\"message\":\"trying\",\"actions\":[{\"tool\":\"teleport\",\"params\":{}}]}\n```",
	}
	session, _ := newTestSession(t, p)

	result, err := session.Turn(context.Background(), "go", nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].Success {
		t.Fatalf("results = %+v", result.Results)
	}
	if !strings.Contains(result.Reply.Content, "failed") {
		t.Fatalf("reply does not surface the failure: %q", result.Reply.Content)
	}
}

func TestTurnIncludesNotebookContext(t *testing.T) {
	p := &scriptedProvider{name: "scripted", streamAt: -1, reply: "ok"}
	session, store := newTestSession(t, p)
	store.AddCell(models.CellTypeCode, "import os", nil)

	if _, err := session.Turn(context.Background(), "what's here?", nil); err != nil {
		t.Fatalf("turn: %v", err)
	}
	req := p.requests[0]
	if !strings.Contains(req.System, "import os") {
		t.Fatal("notebook context missing from system prompt")
	}
}
