package store

import (
	"sync"
	"time"
)

// Store is the single source of truth for chat sessions, their messages, and
// transient streaming state. It is constructed once per application session
// and injected where needed; all methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	sessions         []*ChatSession // most recently used first
	archivedSessions []*ChatSession
	currentSessionID string

	// Streaming state. At most one message streams at a time; isThinking and
	// a non-empty streamingContent are mutually exclusive.
	streamingMessageID string
	streamingContent   string
	isThinking         bool
	activeToolCalls    []ActiveToolCall

	sendingMessage bool

	subs *subscribers
}

// New creates an empty store.
func New() *Store {
	return &Store{subs: newSubscribers()}
}

// ─────────────────────────────────────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────────────────────────────────────

// SetSessions replaces the active session collection.
func (s *Store) SetSessions(sessions []*ChatSession) {
	s.mu.Lock()
	s.sessions = append([]*ChatSession(nil), sessions...)
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions})
}

// SetArchivedSessions replaces the archived session collection.
func (s *Store) SetArchivedSessions(sessions []*ChatSession) {
	s.mu.Lock()
	s.archivedSessions = append([]*ChatSession(nil), sessions...)
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions})
}

// AddSession prepends a session to the active collection.
func (s *Store) AddSession(session *ChatSession) {
	s.mu.Lock()
	s.sessions = append([]*ChatSession{session}, s.sessions...)
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions, SessionID: session.ID})
}

// UpdateSession applies updates to the session with the given id, wherever it
// lives (active or archived).
func (s *Store) UpdateSession(sessionID string, update *UpdateChatSession) {
	s.mu.Lock()
	for _, list := range [][]*ChatSession{s.sessions, s.archivedSessions} {
		for _, sess := range list {
			if sess.ID != sessionID {
				continue
			}
			if v := update.Title; v != nil {
				sess.Title = *v
			}
			if v := update.IsActive; v != nil {
				sess.IsActive = *v
			}
			sess.UpdatedAt = time.Now()
		}
	}
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions, SessionID: sessionID})
}

// DeleteSession removes a session from both collections. Removing the current
// session clears the current-session pointer.
func (s *Store) DeleteSession(sessionID string) {
	s.mu.Lock()
	s.sessions = removeSession(s.sessions, sessionID)
	s.archivedSessions = removeSession(s.archivedSessions, sessionID)
	if s.currentSessionID == sessionID {
		s.currentSessionID = ""
	}
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions, SessionID: sessionID})
}

// ArchiveSession moves a session from the active to the archived collection,
// preserving its identity and full message list. Archiving the current
// session clears the current-session pointer.
func (s *Store) ArchiveSession(sessionID string) {
	s.mu.Lock()
	sess := findSession(s.sessions, sessionID)
	if sess == nil {
		s.mu.Unlock()
		return
	}
	s.sessions = removeSession(s.sessions, sessionID)
	s.archivedSessions = append([]*ChatSession{sess}, s.archivedSessions...)
	if s.currentSessionID == sessionID {
		s.currentSessionID = ""
	}
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions, SessionID: sessionID})
}

// UnarchiveSession moves a session back to the active collection.
func (s *Store) UnarchiveSession(sessionID string) {
	s.mu.Lock()
	sess := findSession(s.archivedSessions, sessionID)
	if sess == nil {
		s.mu.Unlock()
		return
	}
	s.archivedSessions = removeSession(s.archivedSessions, sessionID)
	s.sessions = append([]*ChatSession{sess}, s.sessions...)
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions, SessionID: sessionID})
}

// SetCurrentSession sets the current-session pointer. An empty id clears it.
func (s *Store) SetCurrentSession(sessionID string) {
	s.mu.Lock()
	s.currentSessionID = sessionID
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateSessions, SessionID: sessionID})
}

// CurrentSession returns the session matching the current-session pointer.
func (s *Store) CurrentSession() (*ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentSessionID == "" {
		return nil, false
	}
	sess := findSession(s.sessions, s.currentSessionID)
	return sess, sess != nil
}

// Sessions returns the active collection, most recently used first.
func (s *Store) Sessions() []*ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ChatSession(nil), s.sessions...)
}

// ArchivedSessions returns the archived collection.
func (s *Store) ArchivedSessions() []*ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ChatSession(nil), s.archivedSessions...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Messages
// ─────────────────────────────────────────────────────────────────────────────

// AddMessage appends a message to a session's message list.
func (s *Store) AddMessage(sessionID string, msg *ChatMessage) {
	s.mu.Lock()
	if sess := findSession(s.sessions, sessionID); sess != nil {
		sess.Messages = append(sess.Messages, msg)
	}
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateMessages, SessionID: sessionID})
}

// UpdateMessage applies updates to a message by id within a session. Used to
// rekey a placeholder assistant message to its persisted id and content, or
// to overwrite content with a failure notice.
func (s *Store) UpdateMessage(sessionID, messageID string, update *UpdateChatMessage) {
	s.mu.Lock()
	if sess := findSession(s.sessions, sessionID); sess != nil {
		for _, m := range sess.Messages {
			if m.ID != messageID {
				continue
			}
			if v := update.ID; v != nil {
				m.ID = *v
			}
			if v := update.Content; v != nil {
				m.Content = *v
			}
			if update.Metadata != nil {
				m.Metadata = update.Metadata
			}
		}
	}
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateMessages, SessionID: sessionID})
}

// SessionMessages returns the message list of a session, oldest first.
func (s *Store) SessionMessages(sessionID string) []*ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := findSession(s.sessions, sessionID)
	if sess == nil {
		return nil
	}
	return append([]*ChatMessage(nil), sess.Messages...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Streaming state
// ─────────────────────────────────────────────────────────────────────────────

// SetStreamingMessage sets which placeholder message is receiving live
// content and resets the buffer. An empty messageID clears streaming state.
func (s *Store) SetStreamingMessage(messageID, content string) {
	s.mu.Lock()
	s.streamingMessageID = messageID
	s.streamingContent = content
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateStreaming})
}

// AppendStreamingContent appends to the live buffer. The first append clears
// the thinking flag: thinking and buffered content are mutually exclusive.
func (s *Store) AppendStreamingContent(content string) {
	s.mu.Lock()
	s.isThinking = false
	s.streamingContent += content
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateStreaming})
}

// StreamingMessage returns the streaming target id and accumulated buffer.
func (s *Store) StreamingMessage() (messageID, content string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamingMessageID, s.streamingContent
}

// SetThinking flags the gap between "user message sent" and the first chunk.
func (s *Store) SetThinking(thinking bool) {
	s.mu.Lock()
	s.isThinking = thinking
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateStreaming})
}

// IsThinking reports whether the assistant has not produced content yet.
func (s *Store) IsThinking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isThinking
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool calls
// ─────────────────────────────────────────────────────────────────────────────

// AddToolCall records an in-flight tool invocation. Adding a name that is
// already present replaces the existing entry.
func (s *Store) AddToolCall(call ActiveToolCall) {
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now()
	}
	s.mu.Lock()
	replaced := false
	for i, existing := range s.activeToolCalls {
		if existing.Name == call.Name {
			s.activeToolCalls[i] = call
			replaced = true
			break
		}
	}
	if !replaced {
		s.activeToolCalls = append(s.activeToolCalls, call)
	}
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateToolCalls})
}

// RemoveToolCall removes the tool call with the given name. Removing a name
// that is not present is a no-op.
func (s *Store) RemoveToolCall(name string) {
	s.mu.Lock()
	kept := s.activeToolCalls[:0]
	for _, call := range s.activeToolCalls {
		if call.Name != name {
			kept = append(kept, call)
		}
	}
	s.activeToolCalls = kept
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateToolCalls})
}

// ClearToolCalls empties the active set unconditionally. Called at the start
// of a new send so indicators from an aborted prior stream cannot linger.
func (s *Store) ClearToolCalls() {
	s.mu.Lock()
	s.activeToolCalls = nil
	s.mu.Unlock()
	s.subs.publish(Update{Kind: UpdateToolCalls})
}

// ActiveToolCalls returns the in-flight tool invocations in insertion order.
func (s *Store) ActiveToolCalls() []ActiveToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ActiveToolCall(nil), s.activeToolCalls...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Send exclusivity
// ─────────────────────────────────────────────────────────────────────────────

// BeginSend reserves the single send slot. It returns false if a send is
// already in flight; the caller must not open a second stream.
func (s *Store) BeginSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendingMessage {
		return false
	}
	s.sendingMessage = true
	return true
}

// EndSend releases the send slot.
func (s *Store) EndSend() {
	s.mu.Lock()
	s.sendingMessage = false
	s.mu.Unlock()
}

// IsSendingMessage reports whether a send/stream exchange is outstanding.
func (s *Store) IsSendingMessage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sendingMessage
}

func findSession(list []*ChatSession, id string) *ChatSession {
	for _, sess := range list {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func removeSession(list []*ChatSession, id string) []*ChatSession {
	kept := list[:0]
	for _, sess := range list {
		if sess.ID != id {
			kept = append(kept, sess)
		}
	}
	return kept
}
