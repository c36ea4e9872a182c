// Package store persists conversations and their messages in SQLite —
// the MessageStore capability the loop orchestrator's HTTP surface builds
// on to resume a conversation across requests.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/loomhq/agentrun/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT NOT NULL DEFAULT '[]',
	tool_call_id    TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
`

// Conversation is one persisted chat thread.
type Conversation struct {
	ID           string
	Title        string
	Model        string
	SystemPrompt string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoredMessage is one persisted turn within a Conversation. ToolCalls is
// the JSON-marshaled form of provider.ToolCall; ToolCallID is set only on
// tool-role messages and links back to the call that produced them.
type StoredMessage struct {
	ID             string
	ConversationID string
	Role           provider.Role
	Content        string
	ToolCalls      []provider.ToolCall
	ToolCallID     string
	CreatedAt      time.Time
}

// SQLiteStore implements the MessageStore capability over a single SQLite
// connection, matching the teacher's SQLITE_BUSY-avoidance pattern.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dbPath and ensures the
// schema exists. The caller is responsible for calling Close.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateConversation persists a new conversation and fills in its ID and
// timestamps.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	c.ID = uuid.NewString()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, system_prompt, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`,
		c.ID, c.Title, c.Model, c.SystemPrompt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches a conversation and its messages in creation
// order.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, []StoredMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, system_prompt, created_at, updated_at FROM conversations WHERE id = ?`, id)

	var c Conversation
	if err := row.Scan(&c.ID, &c.Title, &c.Model, &c.SystemPrompt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("store: conversation %s not found", id)
		}
		return nil, nil, fmt.Errorf("store: get conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tool_call_id, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: list messages: %w", err)
	}

	return &c, messages, nil
}

// SaveMessage appends a message to a conversation and touches the
// conversation's UpdatedAt.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m *StoredMessage) error {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()

	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("store: marshal tool calls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, string(toolCalls), m.ToolCallID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ConversationID); err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}

	return tx.Commit()
}

// DeleteConversation removes a conversation and all of its messages
// transactionally.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("store: conversation %s not found", id)
	}
	return tx.Commit()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable) (StoredMessage, error) {
	var m StoredMessage
	var role, toolCalls string
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &toolCalls, &m.ToolCallID, &m.CreatedAt); err != nil {
		return StoredMessage{}, fmt.Errorf("store: scan message: %w", err)
	}
	m.Role = provider.Role(role)
	if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
		return StoredMessage{}, fmt.Errorf("store: unmarshal tool calls: %w", err)
	}
	return m, nil
}

// AsProviderMessages converts persisted messages back into the shape the
// provider contract expects, for resuming a conversation.
func AsProviderMessages(messages []StoredMessage) []provider.Message {
	out := make([]provider.Message, len(messages))
	for i, m := range messages {
		out[i] = provider.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}
