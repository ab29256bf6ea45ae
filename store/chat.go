package store

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies who authored a message. Fixed at creation.
type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
	RoleSystem    MessageRole = "SYSTEM"
)

// placeholderPrefix marks a locally generated assistant message id that has
// not been persisted by the backend yet.
const placeholderPrefix = "temp-"

// ChatSession is a single conversation thread between a user and a tool.
// Messages are kept in insertion order, which is chronological order.
type ChatSession struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	ToolID    string         `json:"toolId"`
	Title     string         `json:"title"`
	IsActive  bool           `json:"isActive"`
	Messages  []*ChatMessage `json:"messages"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ChatMessage is a single message within a session. Content is mutable only
// while an assistant message is in flight (placeholder id); once the backend
// persists it, UpdateMessage rekeys it to the server-issued id.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ActiveToolCall is an in-flight tool invocation surfaced mid-stream.
type ActiveToolCall struct {
	Name        string
	Description string
	NodeType    string
	StartedAt   time.Time
}

// UpdateChatSession carries the fields accepted by UpdateSession.
type UpdateChatSession struct {
	Title    *string
	IsActive *bool
}

// UpdateChatMessage carries the fields accepted by UpdateMessage. ID rekeys a
// placeholder message to its server-issued id.
type UpdateChatMessage struct {
	ID       *string
	Content  *string
	Metadata map[string]any
}

// NewPlaceholderID returns a locally generated id for a not-yet-persisted
// assistant message.
func NewPlaceholderID() string {
	return placeholderPrefix + uuid.New().String()
}

// IsPlaceholderID reports whether id was generated by NewPlaceholderID.
func IsPlaceholderID(id string) bool {
	return len(id) > len(placeholderPrefix) && id[:len(placeholderPrefix)] == placeholderPrefix
}
