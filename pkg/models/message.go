package models

import (
	"time"

	"github.com/google/uuid"
)

// Role indicates the chat message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one entry in an assistant conversation.
//
// Offline marks replies that were synthesized locally because the model
// provider was unreachable. The flag rides along with the message so a
// fallback answer is always distinguishable from a live one.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Offline   bool      `json:"offline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChatMessage builds a message with a fresh ID and current timestamp.
func NewChatMessage(role Role, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Conversation is a persisted chat record. The in-memory message list held
// by the session is the source of truth while the session is live; the
// store only receives copies.
type Conversation struct {
	ID         string        `json:"id"`
	NotebookID string        `json:"notebook_id"`
	Title      string        `json:"title"`
	Messages   []ChatMessage `json:"messages"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Notebook is the persisted form of a cell document.
type Notebook struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	KernelName string    `json:"kernel_name"`
	Language   string    `json:"language"`
	Cells      []*Cell   `json:"cells"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
