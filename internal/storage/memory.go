package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jotbook/jot/pkg/models"
)

// MemoryNotebookStore is an in-memory NotebookStore for tests and
// storage-less development runs.
type MemoryNotebookStore struct {
	mu        sync.RWMutex
	notebooks map[string]*models.Notebook
}

// NewMemoryNotebookStore creates an empty in-memory notebook store.
func NewMemoryNotebookStore() *MemoryNotebookStore {
	return &MemoryNotebookStore{notebooks: make(map[string]*models.Notebook)}
}

func (s *MemoryNotebookStore) Save(ctx context.Context, nb *models.Notebook) error {
	if nb == nil || nb.ID == "" {
		return fmt.Errorf("notebook id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *nb
	copied.Cells = make([]*models.Cell, len(nb.Cells))
	for i, cell := range nb.Cells {
		copied.Cells[i] = cell.Clone()
	}
	if copied.CreatedAt.IsZero() {
		if prev, ok := s.notebooks[nb.ID]; ok {
			copied.CreatedAt = prev.CreatedAt
		} else {
			copied.CreatedAt = time.Now().UTC()
		}
	}
	copied.UpdatedAt = time.Now().UTC()
	s.notebooks[nb.ID] = &copied
	return nil
}

func (s *MemoryNotebookStore) Get(ctx context.Context, id string) (*models.Notebook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nb, ok := s.notebooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *nb
	copied.Cells = make([]*models.Cell, len(nb.Cells))
	for i, cell := range nb.Cells {
		copied.Cells[i] = cell.Clone()
	}
	return &copied, nil
}

func (s *MemoryNotebookStore) List(ctx context.Context) ([]*models.Notebook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Notebook, 0, len(s.notebooks))
	for _, nb := range s.notebooks {
		copied := *nb
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryNotebookStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notebooks[id]; !ok {
		return ErrNotFound
	}
	delete(s.notebooks, id)
	return nil
}

// MemoryConversationStore is an in-memory ConversationStore.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
}

// NewMemoryConversationStore creates an empty in-memory conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{convs: make(map[string]*models.Conversation)}
}

func (s *MemoryConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[conv.ID]; exists {
		return ErrAlreadyExists
	}
	copied := *conv
	copied.Messages = append([]models.ChatMessage(nil), conv.Messages...)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	copied.UpdatedAt = copied.CreatedAt
	s.convs[conv.ID] = &copied
	return nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	copied.Messages = append([]models.ChatMessage(nil), conv.Messages...)
	return &copied, nil
}

func (s *MemoryConversationStore) List(ctx context.Context, notebookID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		if notebookID != "" && conv.NotebookID != notebookID {
			continue
		}
		copied := *conv
		copied.Messages = append([]models.ChatMessage(nil), conv.Messages...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryConversationStore) Append(ctx context.Context, id string, msgs ...models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	conv.Messages = append(conv.Messages, msgs...)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryConversationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

// NewMemoryStoreSet wires both in-memory stores.
func NewMemoryStoreSet() StoreSet {
	return NewStoreSet(NewMemoryNotebookStore(), NewMemoryConversationStore(), nil)
}
