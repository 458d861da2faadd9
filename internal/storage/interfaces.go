// Package storage persists notebooks and assistant conversations.
package storage

import (
	"context"
	"errors"

	"github.com/jotbook/jot/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// NotebookStore persists cell documents.
type NotebookStore interface {
	Save(ctx context.Context, nb *models.Notebook) error
	Get(ctx context.Context, id string) (*models.Notebook, error)
	List(ctx context.Context) ([]*models.Notebook, error)
	Delete(ctx context.Context, id string) error
}

// ConversationStore persists chat records. The in-memory session list stays
// the source of truth while a session is live; these are pushed copies.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context, notebookID string) ([]*models.Conversation, error)
	Append(ctx context.Context, id string, msgs ...models.ChatMessage) error
	Delete(ctx context.Context, id string) error
}

// StoreSet groups the storage dependencies handed to the service.
type StoreSet struct {
	Notebooks     NotebookStore
	Conversations ConversationStore
	closer        func() error
}

// NewStoreSet builds a StoreSet with an optional close hook.
func NewStoreSet(nb NotebookStore, conv ConversationStore, closer func() error) StoreSet {
	return StoreSet{Notebooks: nb, Conversations: conv, closer: closer}
}

// Close releases any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
