package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jotbook/jot/internal/assistant/providers"
	"github.com/jotbook/jot/internal/notebook"
	"github.com/jotbook/jot/internal/observability"
	"github.com/jotbook/jot/internal/storage"
	"github.com/jotbook/jot/pkg/models"
)

const systemPrompt = `You are a coding assistant embedded in an interactive notebook.
You can act on the notebook by embedding exactly one fenced JSON block in your reply:

` + "```json" + `
{"message": "what you did", "actions": [{"tool": "createCell", "params": {"source": "print(1)"}}]}
` + "```" + `

Available tools: executeCode(code), createCell(source, cellType?, position?),
editCell(cellId, source), deleteCell(cellId), listCells(), readCellOutput(cellId),
readFile(path), writeFile(path, content), listDirectory(path), deleteFile(path),
createDirectory(path).

Reply in plain prose when no action is needed. Never emit more than one JSON block.`

// offlineReply is the canned response used when no provider can be reached.
// It is tagged so the caller can tell it apart from a live answer.
const offlineReply = "I could not reach the AI service. Your notebook is untouched; please check the provider configuration and try again."

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	// Reply is the assistant message appended to the conversation,
	// including rendered action results.
	Reply models.ChatMessage

	// Results holds one entry per dispatched action, in dispatch order.
	Results []models.ActionResult
}

// Session drives one conversation against one notebook: it assembles the
// prompt from history and notebook state, streams the provider reply, parses
// and dispatches embedded actions, and persists the exchange.
type Session struct {
	conv      *models.Conversation
	registry  *providers.Registry
	disp      *Dispatcher
	store     *notebook.Store
	history   storage.ConversationStore
	logger    *observability.Logger
	metrics   *observability.Metrics
	provider  string
	maxTokens int

	// SelectedCellID feeds the context builder. Empty means no selection.
	SelectedCellID string
}

// SessionConfig wires a Session. History may be nil, in which case the
// conversation is not persisted.
type SessionConfig struct {
	Conversation *models.Conversation
	Registry     *providers.Registry
	Dispatcher   *Dispatcher
	Store        *notebook.Store
	History      storage.ConversationStore
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Provider     string
	MaxTokens    int
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	conv := cfg.Conversation
	if conv == nil {
		conv = &models.Conversation{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		}
	}
	return &Session{
		conv:      conv,
		registry:  cfg.Registry,
		disp:      cfg.Dispatcher,
		store:     cfg.Store,
		history:   cfg.History,
		logger:    logger,
		metrics:   metrics,
		provider:  cfg.Provider,
		maxTokens: cfg.MaxTokens,
	}
}

// Conversation returns the live conversation, including messages appended by
// completed turns.
func (s *Session) Conversation() *models.Conversation { return s.conv }

// Turn runs one full round trip: user input in, assistant reply out, actions
// applied. onChunk, when non-nil, observes streamed reply text as it arrives.
// A provider transport failure does not error the turn; it produces an
// offline-tagged reply with no actions.
func (s *Session) Turn(ctx context.Context, input string, onChunk func(string)) (*TurnResult, error) {
	userMsg := models.NewChatMessage(models.RoleUser, input)
	s.conv.Messages = append(s.conv.Messages, userMsg)

	raw, offline := s.complete(ctx, onChunk)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var result TurnResult
	if offline {
		result.Reply = models.NewChatMessage(models.RoleAssistant, raw)
		result.Reply.Offline = true
	} else {
		parsed := Parse(raw)
		result.Results = s.disp.Dispatch(ctx, parsed.Actions)
		result.Reply = models.NewChatMessage(models.RoleAssistant, renderReply(parsed.Message, result.Results))
	}

	s.conv.Messages = append(s.conv.Messages, result.Reply)
	s.persist(ctx, userMsg, result.Reply)
	return &result, nil
}

// complete streams one provider reply. It reports offline=true when no text
// could be obtained, in which case the returned string is the canned reply.
func (s *Session) complete(ctx context.Context, onChunk func(string)) (string, bool) {
	provider, err := s.registry.Get(s.provider)
	if err != nil {
		name := s.provider
		if name == "" {
			name = "default"
		}
		s.metrics.ProviderRequests.WithLabelValues(name, "fallback").Inc()
		s.logger.Warn(ctx, "provider unavailable", "error", err)
		return offlineReply, true
	}

	req := providers.Request{
		System:    systemPrompt + "\n\n" + notebook.BuildContext(s.store.ID(), s.store.Cells(), s.SelectedCellID),
		Messages:  s.promptMessages(),
		MaxTokens: s.maxTokens,
	}

	start := time.Now()
	chunks, err := provider.Stream(ctx, req)
	if err != nil {
		s.metrics.ProviderRequests.WithLabelValues(provider.Name(), "error").Inc()
		s.logger.Warn(ctx, "provider request failed", "provider", provider.Name(), "error", err)
		return offlineReply, true
	}

	text, err := providers.Collect(ctx, chunks, onChunk)
	s.metrics.ProviderRequestDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.ProviderRequests.WithLabelValues(provider.Name(), "error").Inc()
		s.logger.Warn(ctx, "provider stream failed", "provider", provider.Name(), "error", err)
		if strings.TrimSpace(text) == "" {
			s.metrics.ProviderRequests.WithLabelValues(provider.Name(), "fallback").Inc()
			return offlineReply, true
		}
		// Partial reply: render what arrived rather than discarding it.
		return text, false
	}
	s.metrics.ProviderRequests.WithLabelValues(provider.Name(), "success").Inc()
	return text, false
}

// promptMessages filters offline fillers out of the history so canned text
// never feeds back into the model.
func (s *Session) promptMessages() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(s.conv.Messages))
	for _, msg := range s.conv.Messages {
		if msg.Offline {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (s *Session) persist(ctx context.Context, msgs ...models.ChatMessage) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, s.conv.ID, msgs...); err != nil {
		// History failures are reported, never rolled back into memory.
		s.logger.Error(ctx, "failed to persist conversation", "conversation", s.conv.ID, "error", err)
	}
}

func renderReply(message string, results []models.ActionResult) string {
	if len(results) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	for _, r := range results {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		mark := "ok"
		if !r.Success {
			mark = "failed"
		}
		fmt.Fprintf(&b, "[%s] %s: %s", mark, r.Tool, r.Message)
	}
	return b.String()
}
