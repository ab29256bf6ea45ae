// Package sqlite is a local cache of chat sessions and messages so the UI
// can render history instantly on startup, before the first network
// round-trip completes. The backend remains the source of truth; the cache
// is overwritten by whatever the API returns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/toolbridge/toolbridge/store"
)

// Cache wraps the on-disk sqlite database.
type Cache struct {
	db *sql.DB
}

// Open creates (or opens) the cache at path. Use ":memory:" for tests.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open cache")
	}
	c := &Cache{db: db}
	if err := c.ensureTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_session (
			id         TEXT NOT NULL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			tool_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			archived   INTEGER NOT NULL DEFAULT 0,
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_message (
			id         TEXT NOT NULL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '',
			created_ts INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES chat_session(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_message_session ON chat_message(session_id)`,
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "ensure cache tables")
		}
	}
	return nil
}

// UpsertSession writes one session row (metadata only, not its messages).
func (c *Cache) UpsertSession(ctx context.Context, sess *store.ChatSession, archived bool) error {
	stmt := `INSERT INTO chat_session (id, user_id, tool_id, title, is_active, archived, created_ts, updated_ts)
	         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	         ON CONFLICT(id) DO UPDATE SET
	           title = excluded.title, is_active = excluded.is_active,
	           archived = excluded.archived, updated_ts = excluded.updated_ts`
	_, err := c.db.ExecContext(ctx, stmt,
		sess.ID, sess.UserID, sess.ToolID, sess.Title,
		boolToInt(sess.IsActive), boolToInt(archived),
		sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
	)
	return errors.Wrap(err, "upsert session")
}

// FindSessions filters ListSessions.
type FindSessions struct {
	UserID   *string
	ToolID   *string
	Archived *bool
}

// ListSessions returns cached sessions, most recently updated first, without
// their message lists.
func (c *Cache) ListSessions(ctx context.Context, find *FindSessions) ([]*store.ChatSession, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = ?"), append(args, *v)
	}
	if v := find.ToolID; v != nil {
		where, args = append(where, "tool_id = ?"), append(args, *v)
	}
	if v := find.Archived; v != nil {
		where, args = append(where, "archived = ?"), append(args, boolToInt(*v))
	}
	query := fmt.Sprintf(
		`SELECT id, user_id, tool_id, title, is_active, created_ts, updated_ts
		 FROM chat_session WHERE %s ORDER BY updated_ts DESC`,
		strings.Join(where, " AND "),
	)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var list []*store.ChatSession
	for rows.Next() {
		var (
			sess               store.ChatSession
			isActive           int
			createdTs, updated int64
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.ToolID, &sess.Title, &isActive, &createdTs, &updated); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sess.IsActive = isActive != 0
		sess.CreatedAt = time.Unix(createdTs, 0)
		sess.UpdatedAt = time.Unix(updated, 0)
		list = append(list, &sess)
	}
	return list, rows.Err()
}

// ReplaceMessages swaps a session's cached message list for msgs.
func (c *Cache) ReplaceMessages(ctx context.Context, sessionID string, msgs []*store.ChatMessage) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin replace messages")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_message WHERE session_id = ?", sessionID); err != nil {
		return errors.Wrap(err, "clear cached messages")
	}
	stmt := `INSERT INTO chat_message (id, session_id, role, content, metadata, created_ts)
	         VALUES (?, ?, ?, ?, ?, ?)`
	for _, m := range msgs {
		metadata := ""
		if m.Metadata != nil {
			raw, err := json.Marshal(m.Metadata)
			if err != nil {
				return errors.Wrap(err, "encode message metadata")
			}
			metadata = string(raw)
		}
		if _, err := tx.ExecContext(ctx, stmt, m.ID, sessionID, string(m.Role), m.Content, metadata, m.CreatedAt.Unix()); err != nil {
			return errors.Wrap(err, "insert cached message")
		}
	}
	return errors.Wrap(tx.Commit(), "commit replace messages")
}

// ListMessages returns a session's cached messages, oldest first.
func (c *Cache) ListMessages(ctx context.Context, sessionID string) ([]*store.ChatMessage, error) {
	query := `SELECT id, session_id, role, content, metadata, created_ts
	          FROM chat_message WHERE session_id = ? ORDER BY created_ts ASC, id ASC`
	rows, err := c.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var list []*store.ChatMessage
	for rows.Next() {
		var (
			msg       store.ChatMessage
			role      string
			metadata  string
			createdTs int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &metadata, &createdTs); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Role = store.MessageRole(role)
		msg.CreatedAt = time.Unix(createdTs, 0)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
				return nil, errors.Wrap(err, "decode message metadata")
			}
		}
		list = append(list, &msg)
	}
	return list, rows.Err()
}

// DeleteSession removes a session and (via cascade) its messages.
func (c *Cache) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM chat_message WHERE session_id = ?", sessionID); err != nil {
		return errors.Wrap(err, "delete cached messages")
	}
	_, err := c.db.ExecContext(ctx, "DELETE FROM chat_session WHERE id = ?", sessionID)
	return errors.Wrap(err, "delete cached session")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
