package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/toolbridge/toolbridge/store"
)

// CreateSessionParams creates a new chat session bound to a tool.
type CreateSessionParams struct {
	ToolID string `json:"toolId"`
	Title  string `json:"title,omitempty"`
}

// SendMessageParams is the non-streaming send payload.
type SendMessageParams struct {
	SessionID string
	Content   string
	Metadata  map[string]any
}

// SendMessageResult is the backend's answer to a non-streaming send.
type SendMessageResult struct {
	UserMessage      *store.ChatMessage
	AssistantMessage *store.ChatMessage
	CreditsUsed      int
	RemainingCredits int
}

// ListSessions returns the current user's chat sessions, optionally filtered
// to a tool and/or the archived collection.
func (c *Client) ListSessions(ctx context.Context, toolID string, archived bool) ([]*store.ChatSession, error) {
	params := url.Values{}
	if toolID != "" {
		params.Set("toolId", toolID)
	}
	if archived {
		params.Set("archived", "true")
	}
	var resp struct {
		Sessions []*store.ChatSession `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/public/chat/sessions", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// GetSession returns one session with its messages.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*store.ChatSession, error) {
	var resp struct {
		Session *store.ChatSession `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/public/chat/sessions/"+url.PathEscape(sessionID), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, errors.New("session not found")
	}
	return resp.Session, nil
}

// CreateSession creates a new chat session.
func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (*store.ChatSession, error) {
	var resp struct {
		Session *store.ChatSession `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/public/chat/sessions", nil, params, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, errors.New("failed to create session")
	}
	return resp.Session, nil
}

// RenameSession changes a session's title.
func (c *Client) RenameSession(ctx context.Context, sessionID, title string) (*store.ChatSession, error) {
	return c.patchSession(ctx, sessionID, "/rename", map[string]string{"title": title})
}

// ArchiveSession moves a session to the archived collection.
func (c *Client) ArchiveSession(ctx context.Context, sessionID string) (*store.ChatSession, error) {
	return c.patchSession(ctx, sessionID, "/archive", struct{}{})
}

// UnarchiveSession moves a session back to the active collection.
func (c *Client) UnarchiveSession(ctx context.Context, sessionID string) (*store.ChatSession, error) {
	return c.patchSession(ctx, sessionID, "/unarchive", struct{}{})
}

func (c *Client) patchSession(ctx context.Context, sessionID, action string, body any) (*store.ChatSession, error) {
	var resp struct {
		Session *store.ChatSession `json:"session"`
	}
	path := "/api/public/chat/sessions/" + url.PathEscape(sessionID) + action
	if err := c.do(ctx, http.MethodPatch, path, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, errors.Errorf("failed to update session %s", sessionID)
	}
	return resp.Session, nil
}

// DeleteSession soft-deletes (archives) a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/public/chat/sessions/"+url.PathEscape(sessionID), nil, nil, nil)
}

// PermanentlyDeleteSession destroys an archived session for good.
func (c *Client) PermanentlyDeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/public/chat/sessions/"+url.PathEscape(sessionID)+"/permanent", nil, nil, nil)
}

// SaveUserMessage persists a user message and returns it with its
// server-issued id, which scopes the subsequent stream.
func (c *Client) SaveUserMessage(ctx context.Context, sessionID, content string) (*store.ChatMessage, error) {
	return c.saveMessage(ctx, sessionID, "user", content)
}

// SaveAssistantMessage persists a fully streamed assistant message. Failures
// are wrapped with ErrPersistFailed so callers can keep them apart from
// streaming failures.
func (c *Client) SaveAssistantMessage(ctx context.Context, sessionID, content string) (*store.ChatMessage, error) {
	msg, err := c.saveMessage(ctx, sessionID, "assistant", content)
	if err != nil {
		return nil, errors.Wrap(ErrPersistFailed, err.Error())
	}
	return msg, nil
}

func (c *Client) saveMessage(ctx context.Context, sessionID, role, content string) (*store.ChatMessage, error) {
	var resp struct {
		Message *store.ChatMessage `json:"message"`
	}
	path := "/api/public/chat/sessions/" + url.PathEscape(sessionID) + "/messages/" + role
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"content": content}, &resp); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, errors.Errorf("failed to save %s message", role)
	}
	return resp.Message, nil
}

// SendMessage performs a non-streaming exchange: the backend answers with
// both persisted messages and the credit delta.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*SendMessageResult, error) {
	var resp struct {
		Success          bool               `json:"success"`
		UserMessage      *store.ChatMessage `json:"userMessage"`
		Message          *store.ChatMessage `json:"message"` // assistant reply
		CreditsUsed      int                `json:"creditsUsed"`
		RemainingCredits int                `json:"remainingCredits"`
	}
	path := "/api/public/chat/sessions/" + url.PathEscape(params.SessionID) + "/messages"
	body := map[string]any{"content": params.Content, "metadata": params.Metadata}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.UserMessage == nil {
		return nil, errors.New("failed to send message")
	}
	return &SendMessageResult{
		UserMessage:      resp.UserMessage,
		AssistantMessage: resp.Message,
		CreditsUsed:      resp.CreditsUsed,
		RemainingCredits: resp.RemainingCredits,
	}, nil
}
